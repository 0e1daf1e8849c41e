package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults applied by Resolve when the corresponding key is omitted.
const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultCallTimeout    = 45 * time.Second
	DefaultSweepSchedule  = "0 4 * * *"
	DefaultOpsAddr        = "127.0.0.1:9464"
	DefaultYes            = "yes"
	DefaultNo             = "no"
	DefaultSessionsDir    = "./sessions"
)

// Settings is the typed view of Config with durations parsed and defaults
// filled in. Components consume Settings, never the raw string fields.
type Settings struct {
	PollTimeout    time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	MaxFloodWait   time.Duration
	IdleTimeout    time.Duration
	BusyTimeout    time.Duration

	SessionsDir string
	Yes, No     string

	SweepSchedule string
	SweepTimezone *time.Location
	OpsAddr       string
}

// ParseDurationField parses an optional duration string; empty means 0.
// key is the dotted config path used in the error.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", key)
	}
	return d, nil
}

func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Resolve validates cfg and returns its typed Settings.
// All problems are reported at once.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var (
		s    Settings
		errs []error
	)
	dur := func(dst *time.Duration, key, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(key, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	dur(&s.PollTimeout, "telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)
	dur(&s.ConnectTimeout, "remote.connect_timeout", cfg.Remote.ConnectTimeout, DefaultConnectTimeout)
	dur(&s.CallTimeout, "remote.call_timeout", cfg.Remote.CallTimeout, DefaultCallTimeout)
	dur(&s.MaxFloodWait, "bulk.max_flood_wait", cfg.Bulk.MaxFloodWait, 0)
	dur(&s.IdleTimeout, "conversation.idle_timeout", cfg.Conversation.IdleTimeout, 0)
	dur(&s.BusyTimeout, "storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite":
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	s.SessionsDir = firstNonEmpty(cfg.Remote.SessionsDir, DefaultSessionsDir)
	s.Yes = strings.ToLower(firstNonEmpty(cfg.Conversation.Yes, DefaultYes))
	s.No = strings.ToLower(firstNonEmpty(cfg.Conversation.No, DefaultNo))
	if s.Yes == s.No {
		errs = append(errs, fmt.Errorf("conversation: yes and no tokens must differ (both %q)", s.Yes))
	}

	s.SweepSchedule = firstNonEmpty(cfg.Sweep.Schedule, DefaultSweepSchedule)
	s.SweepTimezone = time.Local
	if tz := strings.TrimSpace(cfg.Sweep.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep.timezone: %w", err))
		} else {
			s.SweepTimezone = loc
		}
	}
	s.OpsAddr = firstNonEmpty(cfg.Ops.Addr, DefaultOpsAddr)

	return s, errors.Join(errs...)
}

func firstNonEmpty(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
