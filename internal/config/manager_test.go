package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"json", "config.json", `{"telegram":{"token":"T","owner_user_ids":[7]},"bulk":{"max_flood_wait":"5m"}}`},
		{"yaml", "config.yaml", "telegram:\n  token: T\n  owner_user_ids: [7]\nbulk:\n  max_flood_wait: 5m\n"},
		{"toml", "config.toml", "[telegram]\ntoken = \"T\"\nowner_user_ids = [7]\n\n[bulk]\nmax_flood_wait = \"5m\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tc.file, tc.body))
			cfg, err := m.Load()
			require.NoError(t, err)
			require.Equal(t, "T", cfg.Telegram.Token)
			require.Equal(t, []int64{7}, cfg.Telegram.OwnerUserIDs)
			require.Equal(t, "5m", cfg.Bulk.MaxFloodWait)
			require.Same(t, cfg, m.Get())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.yaml", "telegram:\n  token: T\n  tokn: typo\n"))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"a"}}{"x":1}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	s, err := Resolve(&Config{Telegram: TelegramConfig{Token: "T"}})
	require.NoError(t, err)
	require.Equal(t, DefaultPollTimeout, s.PollTimeout)
	require.Equal(t, time.Duration(0), s.MaxFloodWait)
	require.Equal(t, "yes", s.Yes)
	require.Equal(t, "no", s.No)
	require.Equal(t, DefaultSweepSchedule, s.SweepSchedule)
	require.Equal(t, DefaultSessionsDir, s.SessionsDir)
}

func TestResolveCollectsErrors(t *testing.T) {
	t.Parallel()

	_, err := Resolve(&Config{
		Storage:      StorageConfig{Driver: "postgres"},
		Bulk:         BulkConfig{MaxFloodWait: "later"},
		Conversation: ConversationConfig{Yes: "ok", No: "OK"},
	})
	require.Error(t, err)
	for _, want := range []string{"telegram.token", "storage.dsn", "bulk.max_flood_wait", "yes and no"} {
		require.ErrorContains(t, err, want)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	require.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	require.False(t, ok)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Bulk: BulkConfig{MaxFloodWait: "1m"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Bulk: BulkConfig{MaxFloodWait: "2m"}, Ops: OpsConfig{Enabled: true}}
	changed, fields := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"bulk", "ops"}, changed)
	require.NotEmpty(t, fields)
	require.Equal(t, []string{"ops"}, RestartRequired(changed))
}
