package conversation

import (
	"context"
	"fmt"

	"tgfleet/internal/remote"
	"tgfleet/internal/storage"
	kit "tgfleet/internal/transport"
	logx "tgfleet/pkg/logx"
	"tgfleet/pkg/tgui"
)

const (
	handleUnauthorized = "unauthorized"
	handleError        = "error"
)

func (c *Controller) listAccounts(ctx context.Context, op int64, to kit.ChatTarget) error {
	recs, err := c.deps.Store.ListAccounts(ctx, op)
	if err != nil {
		_ = c.reply(ctx, to, tgui.Text("Could not load your accounts: "+err.Error()))
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(recs) == 0 {
		return c.reply(ctx, to, tgui.Text(msgNoAccounts))
	}

	b := tgui.New().Title("📂", fmt.Sprintf("Your accounts (%d)", len(recs)))
	kb := tgui.NewInline()
	for i, rec := range recs {
		h := c.describe(ctx, rec)
		b.HTML(tgui.JoinH(" ", tgui.Esc(fmt.Sprintf("%d.", i+1)), tgui.Esc(h), tgui.Code(rec.SessionRef)))
		if data, ok := deleteButton(rec.SessionRef); ok {
			kb.Row(tgui.Btn("🗑 "+tgui.TruncRunes(h, 24), data))
		}
	}
	if kb.Len() > 0 {
		b.Markup(kb)
	}
	return c.reply(ctx, to, b.Build())
}

// describe resolves the display handle of an account; it is never stored.
func (c *Controller) describe(ctx context.Context, rec storage.AccountRecord) string {
	if c.deps.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deps.CallTimeout)
		defer cancel()
	}
	cl, err := c.deps.Factory.Open(remote.Credential{AppID: rec.AppID, AppSecret: rec.AppSecret}, rec.SessionRef)
	if err != nil {
		return handleError
	}
	defer func() { _ = cl.Close() }()
	if err := cl.Connect(ctx); err != nil {
		if remote.KindOf(err) == remote.StaleSession {
			return handleUnauthorized
		}
		return handleError
	}
	ok, err := cl.IsAuthorized(ctx)
	switch {
	case err != nil:
		return handleError
	case !ok:
		return handleUnauthorized
	}
	id, err := cl.WhoAmI(ctx)
	if err != nil {
		return handleError
	}
	if h := id.Handle(); h != "" {
		return h
	}
	return rec.SessionRef
}

// HandleCallback processes inline button presses.
func (c *Controller) HandleCallback(ctx context.Context, cb *kit.Callback) error {
	if cb == nil || cb.FromID == 0 {
		return nil
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok || scope != cbScope || action != cbDelete || payload == "" {
		return c.deps.Sender.AnswerCallback(ctx, cb.ID, "")
	}

	st := c.acquire(cb.FromID)
	defer st.mu.Unlock()
	st.lastSeen = c.deps.Now()
	if st.phase == running {
		return c.deps.Sender.AnswerCallback(ctx, cb.ID, msgBusy)
	}

	text, err := c.deleteAccount(ctx, cb.FromID, payload)
	if aerr := c.deps.Sender.AnswerCallback(ctx, cb.ID, text); aerr != nil {
		c.log.Debug("answer callback", logx.Err(aerr))
	}
	_ = c.reply(ctx, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, tgui.Text(text+" "+payload))
	return err
}

// deleteAccount removes the record first, then its session artifact.
func (c *Controller) deleteAccount(ctx context.Context, op int64, sessionRef string) (string, error) {
	removed, err := c.deps.Store.DeleteAccount(ctx, op, sessionRef)
	e := storage.AuditEntry{OperatorID: op, Action: "delete-account", Target: sessionRef}
	switch {
	case err != nil:
		e.Fail, e.Error = 1, err.Error()
		c.audit(ctx, e)
		return "Could not remove the account.", fmt.Errorf("delete account: %w", err)
	case !removed:
		e.Noop = 1
		c.audit(ctx, e)
		return msgNotFound, nil
	}
	if err := c.deps.Factory.Remove(sessionRef); err != nil {
		c.log.Warn("remove session artifact", logx.String("session", sessionRef), logx.Err(err))
	}
	e.OK = 1
	c.audit(ctx, e)
	c.log.Info("account removed", logx.Int64("operator", op), logx.String("session", sessionRef))
	return msgRemoved, nil
}
