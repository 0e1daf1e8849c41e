package config

import (
	"reflect"
	"strings"

	logx "tgfleet/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for a reload log line. Tokens, DSNs and keys never
// appear in the fields; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		ot.Token != nt.Token ||
			!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
			strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
			ot.PollTimeout != nt.PollTimeout ||
			ot.SendRatePerSec != nt.SendRatePerSec ||
			ot.Workers != nt.Workers,
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
	)

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
	)

	ost, nst := oldCfg.Storage, newCfg.Storage
	section("storage", !reflect.DeepEqual(ost, nst),
		logx.String("storage.driver", nst.Driver),
		logx.Bool("storage.sealed", nst.SecretKey != "" || nst.SecretKeyFile != ""),
	)

	section("remote", oldCfg.Remote != newCfg.Remote,
		logx.String("remote.sessions_dir", newCfg.Remote.SessionsDir),
	)
	section("bulk", oldCfg.Bulk != newCfg.Bulk,
		logx.String("bulk.max_flood_wait", newCfg.Bulk.MaxFloodWait),
	)
	section("conversation", oldCfg.Conversation != newCfg.Conversation,
		logx.String("conversation.idle_timeout", newCfg.Conversation.IdleTimeout),
	)
	section("sweep", oldCfg.Sweep != newCfg.Sweep,
		logx.Bool("sweep.enabled", newCfg.Sweep.Enabled),
		logx.String("sweep.schedule", newCfg.Sweep.Schedule),
	)
	section("ops", oldCfg.Ops != newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr),
	)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "remote", "sweep", "ops":
			out = append(out, s)
		}
	}
	return out
}
