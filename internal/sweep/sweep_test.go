package sweep

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgfleet/internal/bulk"
	"tgfleet/internal/remote"
	"tgfleet/internal/remote/remotetest"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

type gate struct {
	mu       sync.Mutex
	busy     map[int64]bool
	released []int64
}

func (g *gate) Reserve(op int64) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[op] {
		return nil, false
	}
	return func() {
		g.mu.Lock()
		g.released = append(g.released, op)
		g.mu.Unlock()
	}, true
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "db.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func add(t *testing.T, st storage.Store, f *remotetest.Factory, op int64, ref string, a *remotetest.Account) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnsureOperator(ctx, storage.Operator{ID: op}))
	require.NoError(t, st.AddAccount(ctx, storage.AccountRecord{OperatorID: op, AppID: 1, AppSecret: "s", SessionRef: ref}))
	f.Set(ref, a)
}

func TestRunOncePrunesStaleSessions(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	f := remotetest.NewFactory()
	add(t, st, f, 1, "a.session", &remotetest.Account{Authorized: true, Identity: remote.Identity{Username: "a"}})
	add(t, st, f, 1, "b.session", &remotetest.Account{Authorized: false})
	add(t, st, f, 2, "c.session", &remotetest.Account{Authorized: true})
	add(t, st, f, 3, "d.session", &remotetest.Account{Authorized: false})

	ex := bulk.New(bulk.Options{Factory: f, Accounts: st, Sleep: func(context.Context, time.Duration) error { return nil }})
	g := &gate{busy: map[int64]bool{3: true}}
	s, err := New(Config{Schedule: "0 4 * * *", Location: time.UTC}, st, ex, g, logx.Nop())
	require.NoError(t, err)

	sum, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Operators)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 3, sum.Accounts)
	require.Equal(t, 1, sum.Removed)
	require.Zero(t, sum.Failed)
	require.ElementsMatch(t, []int64{1, 2}, g.released)

	left, err := st.ListAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "a.session", left[0].SessionRef)

	// The busy operator is untouched.
	busy, err := st.ListAccounts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	require.Empty(t, f.Get("d.session").CallLog())
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Config{Schedule: "every day"}, nil, nil, nil, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Schedule: ""}, nil, nil, nil, logx.Nop())
	require.Error(t, err)
}

func TestParseScheduleHonorsTimezone(t *testing.T) {
	sched, err := ParseSchedule("0 4 * * *")
	require.NoError(t, err)
	loc := time.FixedZone("WIB", 7*3600)
	next := sched.Next(time.Date(2026, 3, 1, 5, 0, 0, 0, loc))
	require.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, loc), next)

	_, err = ParseSchedule("@every 6h")
	require.NoError(t, err)
	_, err = ParseSchedule("*/30 * * * * *")
	require.NoError(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New(Config{Schedule: "@every 1h", Location: time.UTC}, newStore(t), nil, nil, logx.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.c != nil
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Apply(ctx, Config{Schedule: "0 5 * * *", Location: time.UTC}))
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}
