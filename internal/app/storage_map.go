package app

import (
	"strconv"
	"strings"

	"tgfleet/internal/config"
	"tgfleet/internal/ops"
	"tgfleet/internal/storage"
	"tgfleet/internal/sweep"
	logx "tgfleet/pkg/logx"
)

func mapStorageConfig(cfg *config.Config, s config.Settings) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:        strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:          strings.TrimSpace(sc.Path),
		DSN:           strings.TrimSpace(sc.DSN),
		BusyTimeout:   s.BusyTimeout,
		SecretKey:     sc.SecretKey,
		SecretKeyFile: strings.TrimSpace(sc.SecretKeyFile),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when it is unset or not numeric.
func logTarget(cfg *config.Config) (chatID int64, ok bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapOpsConfig(cfg *config.Config, s config.Settings) ops.Config {
	return ops.Config{Addr: s.OpsAddr, Token: strings.TrimSpace(cfg.Ops.Token), Pprof: cfg.Ops.Pprof}
}

func mapSweepConfig(s config.Settings) sweep.Config {
	return sweep.Config{Schedule: s.SweepSchedule, Location: s.SweepTimezone}
}
