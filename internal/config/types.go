package config

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Remote       RemoteConfig       `json:"remote"`
	Bulk         BulkConfig         `json:"bulk,omitempty"`
	Conversation ConversationConfig `json:"conversation,omitempty"`
	Sweep        SweepConfig        `json:"sweep,omitempty"`
	Ops          OpsConfig          `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs are always treated as admins, even before the first
	// operator record exists in the store.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendRatePerSec throttles outbound replies across all chats. 0 = 25/s.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
	// Workers is the number of router shards. 0 = 8.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the credential store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tgfleet.db", "secret_key_file": "./data/age.key" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // file | sqlite | postgres
	Path        string `json:"path,omitempty"`         // file dir or sqlite db path
	DSN         string `json:"dsn,omitempty"`          // postgres connection string (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// SecretKey / SecretKeyFile hold an age X25519 identity. When set, app
	// secrets are sealed before they reach the backend.
	SecretKey     string `json:"secret_key,omitempty"`
	SecretKeyFile string `json:"secret_key_file,omitempty"`
}

type RemoteConfig struct {
	SessionsDir    string `json:"sessions_dir"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	CallTimeout    string `json:"call_timeout,omitempty"`
}

type BulkConfig struct {
	// MaxFloodWait caps how long a single rate-limit wait may stall a run.
	// "0s" or empty waits the full reported duration.
	MaxFloodWait string `json:"max_flood_wait,omitempty"`
}

type ConversationConfig struct {
	Yes string `json:"yes,omitempty"`
	No  string `json:"no,omitempty"`
	// IdleTimeout evicts neutral operator states. Empty or "0s" never evicts.
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type SweepConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expression, default "0 4 * * *"
	Timezone string `json:"timezone,omitempty"`
}

// OpsConfig controls the /metrics and /healthz HTTP listener.
// Prefer binding to localhost.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	// Token is required when Addr is not a loopback address.
	Token string `json:"token,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}
