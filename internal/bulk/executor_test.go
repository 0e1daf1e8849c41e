package bulk

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgfleet/internal/remote"
	"tgfleet/internal/remote/remotetest"
	"tgfleet/internal/storage"
)

type fakeAccounts struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, _ int64, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.deleted = append(f.deleted, ref)
	return true, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	// failAt makes the n-th sleep (1-based) return context.Canceled.
	failAt int
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	if s.failAt > 0 && len(s.sleeps) == s.failAt {
		return context.Canceled
	}
	return nil
}

func records(refs ...string) []storage.AccountRecord {
	out := make([]storage.AccountRecord, 0, len(refs))
	for _, r := range refs {
		out = append(out, storage.AccountRecord{OperatorID: 7, AppID: 1, AppSecret: "s", SessionRef: r})
	}
	return out
}

func mustRef(t *testing.T, s string) remote.GroupRef {
	t.Helper()
	ref, err := remote.ParseGroupRef(s)
	require.NoError(t, err)
	return ref
}

func newTestExecutor(f *remotetest.Factory, acc *fakeAccounts, sl *sleepRecorder) *Executor {
	return New(Options{
		Factory:  f,
		Accounts: acc,
		Sleep:    sl.sleep,
		Rand:     rand.New(rand.NewSource(1)),
	})
}

func authorized(name string) *remotetest.Account {
	return &remotetest.Account{Authorized: true, Identity: remote.Identity{Username: name}}
}

func TestJoinThreeAccountsWithRangeDelay(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", authorized("alice"))
	f.Set("b.session", authorized("bob"))
	f.Set("c.session", authorized("carol"))
	sl := &sleepRecorder{}
	ex := newTestExecutor(f, &fakeAccounts{}, sl)

	delay, err := ParseMinutes("1-2")
	require.NoError(t, err)

	var reported []Outcome
	res, err := ex.Execute(context.Background(), Request{
		OperatorID: 7,
		Action:     Join,
		Target:     mustRef(t, "https://t.me/example"),
		Delay:      delay,
	}, records("a.session", "b.session", "c.session"), ReporterFunc(func(_ context.Context, o Outcome) {
		reported = append(reported, o)
	}))
	require.NoError(t, err)

	require.Equal(t, 3, res.Succeeded)
	require.Equal(t, 0, res.Failed)
	require.Len(t, res.Outcomes, 3)
	require.Equal(t, res.Outcomes, reported)
	require.Equal(t, "@alice", res.Outcomes[0].Handle)

	require.Len(t, sl.sleeps, 2, "no delay after the last account")
	for _, d := range sl.sleeps {
		require.GreaterOrEqual(t, d, time.Minute)
		require.LessOrEqual(t, d, 2*time.Minute)
	}
	require.Contains(t, f.Get("a.session").CallLog(), "join https://t.me/example")
	require.True(t, f.Balanced())
}

func TestStaleAccountIsRemovedOnceAndRunContinues(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", authorized("alice"))
	f.Set("dead.session", &remotetest.Account{Authorized: false})
	f.Set("c.session", authorized("carol"))
	acc := &fakeAccounts{}
	ex := newTestExecutor(f, acc, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{
		OperatorID: 7,
		Action:     Join,
		Target:     mustRef(t, "@example"),
	}, records("a.session", "dead.session", "c.session"), nil)
	require.NoError(t, err)

	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Removed)
	require.Equal(t, RemovedStale, res.Outcomes[1].Kind)
	require.Equal(t, []string{"dead.session"}, acc.deleted)
	require.Equal(t, []string{"dead.session"}, f.Removed)
	require.True(t, f.Balanced())
}

func TestReauthorizationRecoversSession(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{AuthSeq: []bool{false, true}})
	acc := &fakeAccounts{}
	ex := newTestExecutor(f, acc, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Probe}, records("a.session"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Empty(t, acc.deleted)
	require.Equal(t, "a.session", res.Outcomes[0].Handle)
	require.True(t, f.Balanced())
}

func TestStaleSessionErrorDuringAction(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{Authorized: true, SendErr: remote.NewError(remote.StaleSession, "AUTH_KEY_UNREGISTERED")})
	acc := &fakeAccounts{}
	ex := newTestExecutor(f, acc, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{
		Action:  Broadcast,
		Target:  mustRef(t, "@example"),
		Message: "hello",
	}, records("a.session"), nil)
	require.NoError(t, err)
	require.Equal(t, RemovedStale, res.Outcomes[0].Kind)
	require.Equal(t, []string{"a.session"}, acc.deleted)
}

func TestLeaveWhenNotMemberIsNoop(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{Authorized: true, LeaveErr: remote.NewError(remote.NotMember, "")})
	ex := newTestExecutor(f, &fakeAccounts{}, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Leave, Target: mustRef(t, "@example")}, records("a.session"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Noop)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, Noop, res.Outcomes[0].Kind)
}

func TestJoinErrorsMapToOutcomes(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("member.session", &remotetest.Account{Authorized: true, JoinErr: remote.NewError(remote.AlreadyMember, "")})
	f.Set("banned.session", &remotetest.Account{Authorized: true, JoinErr: remote.NewError(remote.Banned, "USER_BANNED_IN_CHANNEL")})
	f.Set("odd.session", &remotetest.Account{Authorized: true, JoinErr: errors.New("boom")})
	ex := newTestExecutor(f, &fakeAccounts{}, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Join, Target: mustRef(t, "t.me/+AbCdEfGh12")},
		records("member.session", "banned.session", "odd.session"), nil)
	require.NoError(t, err)
	require.Equal(t, Noop, res.Outcomes[0].Kind)
	require.Equal(t, Failed, res.Outcomes[1].Kind)
	require.Equal(t, "banned: USER_BANNED_IN_CHANNEL", res.Outcomes[1].Detail)
	require.Equal(t, Failed, res.Outcomes[2].Kind)
	require.Equal(t, "boom", res.Outcomes[2].Detail)
	require.Equal(t, 1, res.Noop)
	require.Equal(t, 2, res.Failed)
}

func TestEmptyAccountListYieldsEmptyResult(t *testing.T) {
	sl := &sleepRecorder{}
	ex := newTestExecutor(remotetest.NewFactory(), &fakeAccounts{}, sl)

	res, err := ex.Execute(context.Background(), Request{Action: Join, Target: mustRef(t, "@example"), Delay: Fixed(time.Minute)}, nil, nil)
	require.NoError(t, err)
	require.Empty(t, res.Outcomes)
	require.Zero(t, res.Succeeded+res.Failed+res.Noop)
	require.Empty(t, sl.sleeps)
}

func TestRateLimitSleepsExactlyTheReportedWait(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{Authorized: true, JoinErr: remote.RateLimit(30 * time.Second)})
	f.Set("b.session", authorized("bob"))
	sl := &sleepRecorder{}
	ex := newTestExecutor(f, &fakeAccounts{}, sl)

	res, err := ex.Execute(context.Background(), Request{
		Action: Join,
		Target: mustRef(t, "@example"),
		Delay:  Fixed(time.Minute),
	}, records("a.session", "b.session"), nil)
	require.NoError(t, err)

	require.Equal(t, []time.Duration{30 * time.Second, time.Minute}, sl.sleeps)
	require.Equal(t, RateLimited, res.Outcomes[0].Kind)
	require.Equal(t, 30*time.Second, res.Outcomes[0].Wait)
	require.Equal(t, OK, res.Outcomes[1].Kind)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, []string{"connect", "is-authorized", "whoami", "join https://t.me/example", "close"}, f.Get("a.session").CallLog(),
		"the rate-limited account is not retried")
}

func TestRateLimitAboveCapIsSkipped(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{Authorized: true, JoinErr: remote.RateLimit(2 * time.Hour)})
	sl := &sleepRecorder{}
	ex := newTestExecutor(f, &fakeAccounts{}, sl)
	ex.SetMaxFloodWait(10 * time.Minute)

	res, err := ex.Execute(context.Background(), Request{Action: Join, Target: mustRef(t, "@example")}, records("a.session"), nil)
	require.NoError(t, err)
	require.Empty(t, sl.sleeps)
	require.Equal(t, RateLimited, res.Outcomes[0].Kind)
	require.Contains(t, res.Outcomes[0].Detail, "skipped")
}

func TestLimitTakesAccountsInStoreOrder(t *testing.T) {
	f := remotetest.NewFactory()
	f.New = func(string) *remotetest.Account { return &remotetest.Account{Authorized: true} }
	ex := newTestExecutor(f, &fakeAccounts{}, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Leave, Target: mustRef(t, "@example"), Limit: 2},
		records("a.session", "b.session", "c.session"), nil)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	require.Equal(t, "a.session", res.Outcomes[0].Account)
	require.Equal(t, "b.session", res.Outcomes[1].Account)
	require.Nil(t, f.Get("c.session"))
}

func TestCheckReportsMembership(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("in.session", &remotetest.Account{Authorized: true, Member: true})
	f.Set("out.session", &remotetest.Account{Authorized: true})
	ex := newTestExecutor(f, &fakeAccounts{}, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Check, Target: mustRef(t, "@example")},
		records("in.session", "out.session"), nil)
	require.NoError(t, err)
	require.Equal(t, OK, res.Outcomes[0].Kind)
	require.Equal(t, "subscribed", res.Outcomes[0].Detail)
	require.Equal(t, Noop, res.Outcomes[1].Kind)
}

func TestConnectFailureSkipsAccount(t *testing.T) {
	f := remotetest.NewFactory()
	f.Set("a.session", &remotetest.Account{ConnectErr: errors.New("dial tcp: refused")})
	f.Set("b.session", authorized("bob"))
	acc := &fakeAccounts{}
	ex := newTestExecutor(f, acc, &sleepRecorder{})

	res, err := ex.Execute(context.Background(), Request{Action: Probe}, records("a.session", "b.session"), nil)
	require.NoError(t, err)
	require.Equal(t, Skipped, res.Outcomes[0].Kind)
	require.Equal(t, OK, res.Outcomes[1].Kind)
	require.Empty(t, acc.deleted)
	require.True(t, f.Balanced())
}

func TestInterruptedSleepStopsRun(t *testing.T) {
	f := remotetest.NewFactory()
	f.New = func(string) *remotetest.Account { return &remotetest.Account{Authorized: true} }
	sl := &sleepRecorder{failAt: 1}
	ex := newTestExecutor(f, &fakeAccounts{}, sl)

	res, err := ex.Execute(context.Background(), Request{Action: Probe, Delay: Fixed(time.Second)},
		records("a.session", "b.session", "c.session"), nil)
	require.NoError(t, err)
	require.True(t, res.Interrupted)
	require.Len(t, res.Outcomes, 1)
}

func TestInvalidRequests(t *testing.T) {
	ex := newTestExecutor(remotetest.NewFactory(), &fakeAccounts{}, &sleepRecorder{})
	ctx := context.Background()

	_, err := ex.Execute(ctx, Request{Action: Join}, records("a.session"), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ex.Execute(ctx, Request{Action: Broadcast, Target: mustRef(t, "@example"), Message: "  "}, records("a.session"), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ex.Execute(ctx, Request{Action: "dance"}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
