package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgfleet/internal/secrets"
	logx "tgfleet/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	require.NoError(t, err)
	sq, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}, logx.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = fs.Close()
		_ = sq.Close()
	})
	return map[string]Store{"file": fs, "sqlite": sq}
}

func TestStoreAccounts(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := st.ListAccounts(ctx, 1)
			require.NoError(t, err)
			require.Empty(t, got)

			for _, ref := range []string{"111.session", "222.session", "333.session"} {
				require.NoError(t, st.AddAccount(ctx, AccountRecord{OperatorID: 1, AppID: 42, AppSecret: "s", SessionRef: ref}))
			}
			require.NoError(t, st.AddAccount(ctx, AccountRecord{OperatorID: 2, AppID: 7, AppSecret: "x", SessionRef: "999.session"}))

			got, err = st.ListAccounts(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, "111.session", got[0].SessionRef)
			require.Equal(t, "333.session", got[2].SessionRef)

			// Re-adding replaces in place.
			require.NoError(t, st.AddAccount(ctx, AccountRecord{OperatorID: 1, AppID: 43, AppSecret: "s2", SessionRef: "111.session"}))
			got, err = st.ListAccounts(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, 43, got[0].AppID)

			ok, err := st.DeleteAccount(ctx, 1, "222.session")
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = st.DeleteAccount(ctx, 1, "222.session")
			require.NoError(t, err)
			require.False(t, ok)

			// Operator scoping.
			ok, err = st.DeleteAccount(ctx, 1, "999.session")
			require.NoError(t, err)
			require.False(t, ok)
			other, err := st.ListAccounts(ctx, 2)
			require.NoError(t, err)
			require.Len(t, other, 1)
		})
	}
}

func TestStoreOperators(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.ErrorIs(t, st.SetAdmin(ctx, 10, true), ErrNotFound)
			_, err := st.GetOperator(ctx, 10)
			require.ErrorIs(t, err, ErrNotFound)

			admin, err := st.IsOperatorAdmin(ctx, 10)
			require.NoError(t, err)
			require.False(t, admin)

			require.NoError(t, st.EnsureOperator(ctx, Operator{ID: 10, Username: "alice", FirstSeen: time.Unix(100, 0).UTC()}))
			require.NoError(t, st.EnsureOperator(ctx, Operator{ID: 20, FirstSeen: time.Unix(200, 0).UTC()}))
			require.NoError(t, st.SetAdmin(ctx, 10, true))

			// Refreshing the username keeps the admin flag.
			require.NoError(t, st.EnsureOperator(ctx, Operator{ID: 10, Username: "alice2"}))
			op, err := st.GetOperator(ctx, 10)
			require.NoError(t, err)
			require.True(t, op.IsAdmin)
			require.Equal(t, "alice2", op.Username)

			ops, err := st.ListOperators(ctx)
			require.NoError(t, err)
			require.Len(t, ops, 2)
			require.Equal(t, int64(10), ops[0].ID)

			require.NoError(t, st.SetAdmin(ctx, 10, false))
			admin, err = st.IsOperatorAdmin(ctx, 10)
			require.NoError(t, err)
			require.False(t, admin)
		})
	}
}

func TestStoreAudit(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{OperatorID: 1, Action: "join", Target: "@example", OK: 3}))
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AddAccount(ctx, AccountRecord{OperatorID: 1, AppID: 1, AppSecret: "s", SessionRef: "1.session"}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.ListAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSealedStoreEncryptsAppSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	key, _, err := secrets.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(dir, "state.json")
	st, err := Open(ctx, Config{Path: path, SecretKey: key}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AddAccount(ctx, AccountRecord{OperatorID: 1, AppID: 5, AppSecret: "deadbeefcafe", SessionRef: "5.session"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "deadbeefcafe")

	got, err := st.ListAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "deadbeefcafe", got[0].AppSecret)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}
