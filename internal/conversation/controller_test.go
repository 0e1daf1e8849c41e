package conversation

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgfleet/internal/auth"
	"tgfleet/internal/bulk"
	"tgfleet/internal/remote"
	"tgfleet/internal/remote/remotetest"
	"tgfleet/internal/storage"
	kit "tgfleet/internal/transport"
	logx "tgfleet/pkg/logx"
)

type sentMsg struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMsg
	answered []string
}

func (s *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

func (s *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (s *fakeSender) AnswerCallback(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	s.answered = append(s.answered, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1].text
}

func (s *fakeSender) all() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, m := range s.sent {
		b.WriteString(m.text)
		b.WriteString("\n")
	}
	return b.String()
}

type jobQueue struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (q *jobQueue) Go(_ string, fn func(context.Context)) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *jobQueue) runAll() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn(context.Background())
	}
	return len(fns)
}

type harness struct {
	t       *testing.T
	ctrl    *Controller
	store   storage.Store
	factory *remotetest.Factory
	sender  *fakeSender
	jobs    *jobQueue
	now     time.Time
}

const owner = int64(100)

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "db.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		t:       t,
		store:   st,
		factory: remotetest.NewFactory(),
		sender:  &fakeSender{},
		jobs:    &jobQueue{},
		now:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	ex := bulk.New(bulk.Options{
		Factory:  h.factory,
		Accounts: st,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	h.ctrl = New(Deps{
		Store:    st,
		Factory:  h.factory,
		Executor: ex,
		Sender:   h.sender,
		Go:       h.jobs.Go,
		Now:      func() time.Time { return h.now },
	}, Settings{Yes: "Yes", No: "No", Owners: []int64{owner}})
	return h
}

func (h *harness) say(op int64, text string) string {
	h.t.Helper()
	err := h.ctrl.HandleMessage(context.Background(), &kit.Message{ChatID: op, FromID: op, Text: text, IsPrivate: true})
	require.NoError(h.t, err)
	return h.sender.last()
}

func (h *harness) state(op int64) *operatorState {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return h.ctrl.states[op]
}

func (h *harness) addAccount(op int64, ref string, a *remotetest.Account) {
	h.t.Helper()
	require.NoError(h.t, h.store.AddAccount(context.Background(), storage.AccountRecord{
		OperatorID: op, AppID: 1, AppSecret: "s", SessionRef: ref,
	}))
	h.factory.Set(ref, a)
}

func TestAbortDeclinedResumesAccountCreation(t *testing.T) {
	h := newHarness(t)
	const op = 7

	require.Contains(t, h.say(op, "/create"), "App ID")
	require.Contains(t, h.say(op, "12345"), "App secret")
	require.Contains(t, h.say(op, "s3cret"), "phone number")

	require.Contains(t, h.say(op, LabelSend), "Abandon it")
	require.Equal(t, confirmingAbort, h.state(op).phase)

	reply := h.say(op, "no")
	require.Contains(t, reply, "continuing")
	require.Contains(t, reply, "phone number")

	st := h.state(op)
	require.Equal(t, collecting, st.phase)
	require.Equal(t, NoAction, st.pending)
	d, ok := st.dialog.(*authDialog)
	require.True(t, ok)
	require.Equal(t, auth.CollectingPhone, d.flow.Step())
	require.Equal(t, 12345, d.flow.Session().AppID)
	require.Equal(t, "s3cret", d.flow.Session().AppSecret)
	require.Zero(t, h.factory.Opened, "the broadcast never ran")
}

func TestAbortConfirmedDispatchesPendingAction(t *testing.T) {
	h := newHarness(t)
	const op = 7

	h.say(op, "/create")
	h.say(op, "12345")
	h.say(op, "/broadcast")
	require.Contains(t, h.say(op, "YES"), "group link")

	st := h.state(op)
	d, ok := st.dialog.(*paramDialog)
	require.True(t, ok)
	require.Equal(t, Broadcast, d.act)
	require.Zero(t, d.idx)
}

func TestBackToBackRequestsNeedExplicitAbort(t *testing.T) {
	h := newHarness(t)
	const op = 7
	h.addAccount(op, "a.session", &remotetest.Account{Authorized: true})

	h.say(op, LabelJoin)
	require.Contains(t, h.say(op, "/leave"), "Abandon it")
	reply := h.say(op, "maybe")
	require.Contains(t, reply, "Reply")
	require.Equal(t, confirmingAbort, h.state(op).phase)

	// An action label while confirming is just another non-yes/no answer.
	h.say(op, LabelCheck)
	require.Equal(t, LeaveGroup, h.state(op).pending)
	require.Zero(t, h.factory.Opened)
	require.Zero(t, h.jobs.runAll())
}

func TestJoinRunsInBackgroundAndReportsTally(t *testing.T) {
	h := newHarness(t)
	const op = 7
	h.addAccount(op, "a.session", &remotetest.Account{Authorized: true, Identity: remote.Identity{Username: "alice"}})
	h.addAccount(op, "b.session", &remotetest.Account{Authorized: true, JoinErr: remote.NewError(remote.AlreadyMember, "")})

	require.Contains(t, h.say(op, "/join"), "group link")
	require.Contains(t, h.say(op, "not a link"), "not a Telegram group link")
	require.Contains(t, h.say(op, "https://t.me/example"), "Delay")
	require.Contains(t, h.say(op, "abc"), "Send it again")
	require.Contains(t, h.say(op, "1-2"), "started on 2 account(s)")
	require.Equal(t, running, h.state(op).phase)

	require.Contains(t, h.say(op, "/start"), "still in progress")
	require.Equal(t, 1, h.jobs.runAll())

	out := h.sender.all()
	require.Contains(t, out, "@alice: ok")
	require.Contains(t, out, "b.session: ok-noop")
	require.Contains(t, h.sender.last(), "Succeeded</b>: 1")
	require.Contains(t, h.sender.last(), "Failed</b>: 0")
	require.Equal(t, neutral, h.state(op).phase)
	require.True(t, h.factory.Balanced())
}

func TestLeaveHonorsAccountCount(t *testing.T) {
	h := newHarness(t)
	const op = 7
	for _, ref := range []string{"a.session", "b.session", "c.session"} {
		h.addAccount(op, ref, &remotetest.Account{Authorized: true})
	}

	h.say(op, LabelLeave)
	h.say(op, "@example")
	require.Contains(t, h.say(op, "0"), "How many")
	require.Contains(t, h.say(op, "-1"), "positive whole number")
	require.Contains(t, h.say(op, "2"), "started on 2 account(s)")
	h.jobs.runAll()

	require.Nil(t, h.factory.Get("c.session").CallLog())
}

func TestBulkWithoutAccountsReportsZeroTally(t *testing.T) {
	h := newHarness(t)
	const op = 7

	h.say(op, "/check")
	reply := h.say(op, "t.me/example")
	require.Contains(t, reply, "Succeeded</b>: 0")
	require.Contains(t, reply, "Failed</b>: 0")
	require.Contains(t, h.sender.all(), "no accounts yet")
	require.Equal(t, neutral, h.state(op).phase)
	require.Zero(t, h.jobs.runAll())
}

func TestAdminGrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const user = int64(200)

	h.say(user, "/start")
	require.Contains(t, h.say(user, "/grant"), "Admin rights are required")

	require.Contains(t, h.say(owner, LabelGrant), "numeric Telegram ID")
	require.Contains(t, h.say(owner, "abc"), "positive number")
	require.Contains(t, h.say(owner, "200"), "User 200 is now an admin")
	ok, err := h.store.IsOperatorAdmin(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)

	h.say(owner, "/grant")
	require.Contains(t, h.say(owner, "999"), "User 999 not found")

	// The new admin can open the panel.
	require.Contains(t, h.say(user, LabelAdmin), "Admin panel")

	h.say(user, "/revoke")
	require.Contains(t, h.say(user, "200"), "no longer an admin")
	h.say(owner, LabelRevoke)
	require.Contains(t, h.say(owner, "200"), "is not an admin")
	h.say(owner, LabelRevoke)
	require.Contains(t, h.say(owner, "100"), "owner")
}

func TestListAndDeleteAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const op = 7
	h.addAccount(op, "a.session", &remotetest.Account{Authorized: true, Identity: remote.Identity{Username: "alice"}})
	h.addAccount(op, "b.session", &remotetest.Account{Authorized: false})
	h.addAccount(op, "c.session", &remotetest.Account{ConnectErr: remote.NewError(remote.Unknown, "dial")})

	require.Contains(t, h.say(op, "/accounts"), "Your accounts (3)")
	out := h.sender.last()
	require.Contains(t, out, "@alice")
	require.Contains(t, out, "unauthorized")
	require.Contains(t, out, "error")
	h.sender.mu.Lock()
	markup := h.sender.sent[len(h.sender.sent)-1].opt.ReplyMarkupAdapter
	h.sender.mu.Unlock()
	require.NotNil(t, markup)
	require.True(t, h.factory.Balanced())

	err := h.ctrl.HandleCallback(ctx, &kit.Callback{ID: "cb1", FromID: op, ChatID: op, Data: "acct:del:b.session"})
	require.NoError(t, err)
	recs, err := h.store.ListAccounts(ctx, op)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, []string{"b.session"}, h.factory.Removed)
	require.Equal(t, []string{msgRemoved}, h.sender.answered)

	// Another operator cannot remove it.
	require.NoError(t, h.ctrl.HandleCallback(ctx, &kit.Callback{ID: "cb2", FromID: 8, ChatID: 8, Data: "acct:del:a.session"}))
	recs, err = h.store.ListAccounts(ctx, op)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, msgNotFound, h.sender.answered[1])
}

func TestMenuAbandonsDialog(t *testing.T) {
	h := newHarness(t)
	const op = 7
	h.say(op, "/join")
	require.Contains(t, h.say(op, "/start"), "Pick an action")
	require.Equal(t, neutral, h.state(op).phase)
	require.Contains(t, h.say(op, "hello"), "Pick an action")
}

func TestIdleEvictionOnlyDropsNeutralStates(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetSettings(Settings{IdleTimeout: time.Hour, Owners: []int64{owner}})

	h.say(1, "/start")
	h.say(2, "/join")
	h.now = h.now.Add(2 * time.Hour)

	require.Equal(t, 1, h.ctrl.EvictIdle())
	require.Nil(t, h.state(1))
	require.NotNil(t, h.state(2))

	// Default tokens apply after reload with empty values.
	require.Contains(t, h.say(2, "/leave"), "Abandon it")
	require.Contains(t, h.say(2, "yes"), "group link")
}

func TestGroupChatsAreIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.HandleMessage(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/start"}))
	require.Empty(t, h.sender.all())
}

func TestReserveBlocksOperatorUntilReleased(t *testing.T) {
	h := newHarness(t)
	const op = 9

	release, ok := h.ctrl.Reserve(op)
	require.True(t, ok)
	require.Contains(t, h.say(op, "/join"), "still in progress")

	_, ok = h.ctrl.Reserve(op)
	require.False(t, ok)

	release()
	require.Equal(t, neutral, h.state(op).phase)
	require.Contains(t, h.say(op, "/join"), "link")

	_, ok = h.ctrl.Reserve(op)
	require.False(t, ok, "collecting operators are not reserved")
}

func TestPhaseDoesNotCreateState(t *testing.T) {
	h := newHarness(t)
	const op = 11

	require.Equal(t, "neutral", h.ctrl.Phase(op))
	require.Nil(t, h.state(op))

	h.say(op, "/create")
	require.Equal(t, "collecting", h.ctrl.Phase(op))
}
