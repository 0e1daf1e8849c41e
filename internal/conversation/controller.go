// Package conversation serializes each operator's requests into one dialog
// at a time.
//
//	neutral --action--> collecting --last answer--> running --report--> neutral
//	collecting --other action--> confirming-abort --yes--> (pending action)
//	                                              --no---> collecting (same step)
//
// State is kept per operator in a map owned by the Controller; every
// transition for one operator happens under that operator's mutex.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"tgfleet/internal/auth"
	"tgfleet/internal/bulk"
	"tgfleet/internal/remote"
	"tgfleet/internal/storage"
	kit "tgfleet/internal/transport"
	logx "tgfleet/pkg/logx"
	"tgfleet/pkg/tgui"
)

// Store is the persistence the controller needs.
type Store interface {
	EnsureOperator(ctx context.Context, op storage.Operator) error
	IsOperatorAdmin(ctx context.Context, id int64) (bool, error)
	SetAdmin(ctx context.Context, id int64, admin bool) error
	ListAccounts(ctx context.Context, operatorID int64) ([]storage.AccountRecord, error)
	AddAccount(ctx context.Context, rec storage.AccountRecord) error
	DeleteAccount(ctx context.Context, operatorID int64, sessionRef string) (bool, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Executor interface {
	Execute(ctx context.Context, req bulk.Request, accounts []storage.AccountRecord, rep bulk.Reporter) (bulk.Result, error)
}

// GoFunc starts fn in the background. It must not run fn on the calling
// goroutine.
type GoFunc func(name string, fn func(ctx context.Context))

// Settings are the hot-reloadable knobs.
type Settings struct {
	Yes         string
	No          string
	IdleTimeout time.Duration // 0 = never evict
	Owners      []int64
}

type Deps struct {
	Store    Store
	Factory  remote.Factory
	Executor Executor
	Sender   kit.Sender
	Log      logx.Logger
	Go       GoFunc

	// CallTimeout bounds each auth step and each account lookup.
	CallTimeout time.Duration
	Now         func() time.Time
}

type phase int

const (
	neutral phase = iota
	collecting
	confirmingAbort
	running
)

func (p phase) String() string {
	return [...]string{"neutral", "collecting", "confirming-abort", "running"}[p]
}

type operatorState struct {
	mu       sync.Mutex
	phase    phase
	dialog   dialog
	pending  Action // only while confirmingAbort
	lastSeen time.Time
	evicted  bool
}

type Controller struct {
	deps Deps
	log  logx.Logger

	cfgMu sync.RWMutex
	cfg   Settings

	mu     sync.Mutex
	states map[int64]*operatorState
}

func New(deps Deps, cfg Settings) *Controller {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Go == nil {
		deps.Go = func(_ string, fn func(ctx context.Context)) { go fn(context.Background()) }
	}
	c := &Controller{
		deps:   deps,
		log:    deps.Log.With(logx.String("comp", "conversation")),
		states: map[int64]*operatorState{},
	}
	c.SetSettings(cfg)
	return c
}

// SetSettings applies reloaded settings. Empty tokens fall back to yes/no.
func (c *Controller) SetSettings(s Settings) {
	s.Yes = strings.ToLower(strings.TrimSpace(s.Yes))
	s.No = strings.ToLower(strings.TrimSpace(s.No))
	if s.Yes == "" {
		s.Yes = "yes"
	}
	if s.No == "" {
		s.No = "no"
	}
	s.Owners = slices.Clone(s.Owners)
	c.cfgMu.Lock()
	c.cfg = s
	c.cfgMu.Unlock()
}

func (c *Controller) settings() Settings {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// acquire returns the operator's state locked, creating it on first contact.
func (c *Controller) acquire(operatorID int64) *operatorState {
	for {
		c.mu.Lock()
		st, ok := c.states[operatorID]
		if !ok {
			st = &operatorState{}
			c.states[operatorID] = st
			statesGauge.Set(float64(len(c.states)))
		}
		c.mu.Unlock()

		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// EvictIdle drops neutral states idle for at least the idle timeout.
func (c *Controller) EvictIdle() int {
	idle := c.settings().IdleTimeout
	if idle <= 0 {
		return 0
	}
	now := c.deps.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, st := range c.states {
		if !st.mu.TryLock() {
			continue
		}
		if st.phase == neutral && now.Sub(st.lastSeen) >= idle {
			st.evicted = true
			delete(c.states, id)
			n++
		}
		st.mu.Unlock()
	}
	statesGauge.Set(float64(len(c.states)))
	return n
}

// Reserve marks an idle operator as running so background work can use
// their accounts without racing a bulk run. The operator sees the busy
// notice until release is called. ok is false when the operator is not
// neutral.
func (c *Controller) Reserve(operatorID int64) (release func(), ok bool) {
	st := c.acquire(operatorID)
	defer st.mu.Unlock()
	if st.phase != neutral {
		return nil, false
	}
	st.phase = running
	return func() {
		st.mu.Lock()
		reset(st)
		st.mu.Unlock()
	}, true
}

// Phase reports the operator's dialog phase without creating state.
func (c *Controller) Phase(operatorID int64) string {
	c.mu.Lock()
	st, ok := c.states[operatorID]
	c.mu.Unlock()
	if !ok {
		return neutral.String()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.phase.String()
}

// Run evicts idle states once a minute until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := c.EvictIdle(); n > 0 {
				c.log.Debug("idle conversations evicted", logx.Int("count", n))
			}
		}
	}
}

// HandleMessage processes one operator message. Only private chats are
// served.
func (c *Controller) HandleMessage(ctx context.Context, m *kit.Message) error {
	if m == nil || !m.IsPrivate || m.FromID == 0 {
		return nil
	}
	c.register(ctx, m.FromID, m.FromUsername)
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}

	st := c.acquire(m.FromID)
	defer st.mu.Unlock()
	st.lastSeen = c.deps.Now()
	return c.step(ctx, st, m.FromID, to, m.Text)
}

func (c *Controller) step(ctx context.Context, st *operatorState, op int64, to kit.ChatTarget, text string) error {
	act, isAction := Recognize(text)
	switch st.phase {
	case running:
		return c.reply(ctx, to, tgui.Text(msgBusy))

	case confirmingAbort:
		cfg := c.settings()
		switch strings.ToLower(strings.TrimSpace(text)) {
		case cfg.Yes:
			pending := st.pending
			c.log.Debug("dialog abandoned", logx.Int64("operator", op), logx.String("dropped", st.dialog.action().String()), logx.String("next", pending.String()))
			reset(st)
			return c.start(ctx, st, op, to, pending)
		case cfg.No:
			st.pending = NoAction
			st.phase = collecting
			return c.reply(ctx, to, tgui.New().Line(msgResume).Line(st.dialog.prompt()).Build())
		}
		return c.reply(ctx, to, tgui.Text(fmt.Sprintf(msgAbortYesNo, cfg.Yes, cfg.No)))

	case collecting:
		if isAction {
			if act == Menu {
				reset(st)
				return c.start(ctx, st, op, to, Menu)
			}
			cfg := c.settings()
			st.pending = act
			st.phase = confirmingAbort
			return c.reply(ctx, to, tgui.Text(abortPrompt(cfg.Yes, cfg.No)))
		}
		return c.answer(ctx, st, op, to, text)
	}

	if !isAction {
		return c.reply(ctx, to, tgui.New().Line(msgUnknown).Markup(mainKeyboard()).Build())
	}
	return c.start(ctx, st, op, to, act)
}

func reset(st *operatorState) {
	st.phase = neutral
	st.dialog = nil
	st.pending = NoAction
}

// start applies a freshly requested action from neutral.
func (c *Controller) start(ctx context.Context, st *operatorState, op int64, to kit.ChatTarget, act Action) error {
	eff := dispatch(act)
	if eff.adminOnly && !c.isAdmin(ctx, op) {
		return c.reply(ctx, to, tgui.Text(msgNotAdmin))
	}
	switch eff.kind {
	case showAdminMenu:
		return c.reply(ctx, to, tgui.New().Line(msgAdminWelcome).Markup(adminKeyboard()).Build())
	case listAccounts:
		return c.listAccounts(ctx, op, to)
	case startAuth:
		flow := auth.New(op, auth.Deps{
			Factory:     c.deps.Factory,
			Accounts:    c.deps.Store,
			Log:         c.deps.Log,
			CallTimeout: c.deps.CallTimeout,
			Now:         c.deps.Now,
		})
		st.dialog = &authDialog{flow: flow}
		st.phase = collecting
		return c.reply(ctx, to, tgui.Text(flow.Prompt()))
	case startParams:
		d := &paramDialog{act: act, steps: eff.steps}
		st.dialog = d
		st.phase = collecting
		return c.reply(ctx, to, tgui.Text(d.prompt()))
	}
	return c.reply(ctx, to, tgui.New().Line(msgWelcome).Markup(mainKeyboard()).Build())
}

// answer feeds text to the in-progress dialog.
func (c *Controller) answer(ctx context.Context, st *operatorState, op int64, to kit.ChatTarget, text string) error {
	switch d := st.dialog.(type) {
	case *authDialog:
		res := d.flow.Submit(ctx, text)
		if res.Outcome.Terminal() {
			reset(st)
			e := storage.AuditEntry{OperatorID: op, Action: CreateAccount.String(), Meta: res.Outcome.String()}
			switch res.Outcome {
			case auth.Succeeded:
				e.OK = 1
			case auth.AlreadyActive:
				e.Noop = 1
			default:
				e.Fail = 1
			}
			c.audit(ctx, e)
		}
		return c.reply(ctx, to, tgui.Text(res.Reply))

	case *paramDialog:
		reprompt, complete := d.submit(text)
		switch {
		case reprompt != "":
			return c.reply(ctx, to, tgui.Text(reprompt))
		case !complete:
			return c.reply(ctx, to, tgui.Text(d.prompt()))
		}
		reset(st)
		return c.complete(ctx, st, op, to, d.act, d.p)
	}
	reset(st)
	return nil
}

// complete runs an action whose parameters are all validated.
func (c *Controller) complete(ctx context.Context, st *operatorState, op int64, to kit.ChatTarget, act Action, p params) error {
	switch act {
	case AdminGrant:
		return c.reply(ctx, to, tgui.Text(c.grant(ctx, op, p.userID)))
	case AdminRevoke:
		return c.reply(ctx, to, tgui.Text(c.revoke(ctx, op, p.userID)))
	}

	req := bulk.Request{OperatorID: op, Target: p.target, Delay: p.delay}
	switch act {
	case JoinGroup:
		req.Action = bulk.Join
	case LeaveGroup:
		req.Action, req.Limit = bulk.Leave, p.count
	case CheckSubscription:
		req.Action = bulk.Check
	case Broadcast:
		req.Action, req.Message = bulk.Broadcast, p.message
	default:
		return fmt.Errorf("action %s has no executor", act)
	}
	return c.launch(ctx, st, to, act, req)
}

func (c *Controller) launch(ctx context.Context, st *operatorState, to kit.ChatTarget, act Action, req bulk.Request) error {
	accounts, err := c.deps.Store.ListAccounts(ctx, req.OperatorID)
	if err != nil {
		_ = c.reply(ctx, to, tgui.Text("Could not load your accounts: "+err.Error()))
		return fmt.Errorf("list accounts: %w", err)
	}
	if req.Limit > 0 && req.Limit < len(accounts) {
		accounts = accounts[:req.Limit]
	}
	if len(accounts) == 0 {
		res, err := c.deps.Executor.Execute(ctx, req, nil, nil)
		if err != nil {
			return c.reply(ctx, to, tgui.Text(err.Error()))
		}
		_ = c.reply(ctx, to, tgui.Text(msgNoAccounts))
		return c.reply(ctx, to, reportMessage(res))
	}

	st.phase = running
	if err := c.reply(ctx, to, tgui.Text(startedText(act, len(accounts), req.Delay))); err != nil {
		c.log.Warn("start notice not delivered", logx.Err(err))
	}
	c.deps.Go("bulk."+string(req.Action), func(runCtx context.Context) {
		c.runBulk(runCtx, st, to, req, accounts)
	})
	return nil
}

func (c *Controller) runBulk(ctx context.Context, st *operatorState, to kit.ChatTarget, req bulk.Request, accounts []storage.AccountRecord) {
	defer func() {
		st.mu.Lock()
		reset(st)
		st.lastSeen = c.deps.Now()
		st.mu.Unlock()
	}()

	rep := bulk.ReporterFunc(func(ctx context.Context, o bulk.Outcome) {
		_ = c.reply(ctx, to, tgui.Text(outcomeLine(o)))
	})
	res, err := c.deps.Executor.Execute(ctx, req, accounts, rep)

	// The report must reach the operator even during shutdown.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		c.log.Error("bulk run rejected", logx.Int64("operator", req.OperatorID), logx.Err(err))
		_ = c.reply(fctx, to, tgui.Text("The run could not start: "+err.Error()))
		return
	}
	_ = c.reply(fctx, to, reportMessage(res))
	c.audit(fctx, storage.AuditEntry{
		OperatorID: req.OperatorID,
		Action:     string(req.Action),
		Target:     req.Target.String(),
		OK:         res.Succeeded,
		Noop:       res.Noop,
		Fail:       res.Failed,
		TookMS:     res.Took.Milliseconds(),
		Meta:       fmt.Sprintf("removed=%d interrupted=%t", res.Removed, res.Interrupted),
	})
}

func (c *Controller) isOwner(id int64) bool {
	return slices.Contains(c.settings().Owners, id)
}

func (c *Controller) isAdmin(ctx context.Context, id int64) bool {
	if c.isOwner(id) {
		return true
	}
	ok, err := c.deps.Store.IsOperatorAdmin(ctx, id)
	if err != nil {
		c.log.Warn("admin lookup failed", logx.Int64("operator", id), logx.Err(err))
		return false
	}
	return ok
}

func (c *Controller) grant(ctx context.Context, op, target int64) string {
	err := c.deps.Store.SetAdmin(ctx, target, true)
	c.audit(ctx, adminAudit(op, AdminGrant, target, err))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Sprintf("❌ User %d not found. They must send /start to the bot first.", target)
	case err != nil:
		return "❌ Could not grant admin rights: " + err.Error()
	}
	c.log.Info("admin granted", logx.Int64("operator", op), logx.Int64("target", target))
	return fmt.Sprintf("✅ User %d is now an admin.", target)
}

func (c *Controller) revoke(ctx context.Context, op, target int64) string {
	if c.isOwner(target) {
		return fmt.Sprintf("User %d is an owner; owner rights come from the config file.", target)
	}
	admin, err := c.deps.Store.IsOperatorAdmin(ctx, target)
	if err != nil {
		return "❌ Could not revoke admin rights: " + err.Error()
	}
	if !admin {
		return fmt.Sprintf("User %d is not an admin.", target)
	}
	err = c.deps.Store.SetAdmin(ctx, target, false)
	c.audit(ctx, adminAudit(op, AdminRevoke, target, err))
	if err != nil {
		return "❌ Could not revoke admin rights: " + err.Error()
	}
	c.log.Info("admin revoked", logx.Int64("operator", op), logx.Int64("target", target))
	return fmt.Sprintf("✅ User %d is no longer an admin.", target)
}

func adminAudit(op int64, act Action, target int64, err error) storage.AuditEntry {
	e := storage.AuditEntry{OperatorID: op, Action: act.String(), Target: fmt.Sprint(target)}
	if err != nil {
		e.Fail, e.Error = 1, err.Error()
	} else {
		e.OK = 1
	}
	return e
}

func (c *Controller) register(ctx context.Context, id int64, username string) {
	if err := c.deps.Store.EnsureOperator(ctx, storage.Operator{ID: id, Username: username}); err != nil {
		c.log.Warn("register operator", logx.Int64("operator", id), logx.Err(err))
	}
}

func (c *Controller) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = c.deps.Now().UTC()
	}
	if err := c.deps.Store.AppendAudit(ctx, e); err != nil {
		c.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (c *Controller) reply(ctx context.Context, to kit.ChatTarget, m tgui.Message) error {
	if _, err := m.Send(ctx, c.deps.Sender, to); err != nil {
		c.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return err
	}
	return nil
}
