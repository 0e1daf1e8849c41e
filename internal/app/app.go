// Package app wires the bot: config, logging, storage, the remote client
// factory, the bulk executor, the conversation controller and the
// operational services, all run under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tgfleet/internal/bulk"
	"tgfleet/internal/config"
	"tgfleet/internal/conversation"
	"tgfleet/internal/ops"
	"tgfleet/internal/remote/mtproto"
	"tgfleet/internal/runtime/supervisor"
	"tgfleet/internal/storage"
	"tgfleet/internal/sweep"
	kit "tgfleet/internal/transport"
	telegram "tgfleet/internal/transport/telegram/adapter"
	"tgfleet/internal/transport/telegram/router"
	logx "tgfleet/pkg/logx"
)

type App struct {
	cfgm     *config.ConfigManager
	settings config.Settings
	sup      *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	factory *mtproto.Factory
	exec    *bulk.Executor
	ctrl    *conversation.Controller
	router  *router.Router
	ops     *ops.Server
	sweep   *sweep.Service

	updates chan kit.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm, cfg, s, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    s.PollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging is enabled only after the target is set, so Apply
	// does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	store, err := storage.Open(ctx, mapStorageConfig(cfg, s), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", firstNonEmpty(cfg.Storage.Driver, "file")))

	factory, err := mtproto.NewFactory(mtproto.Options{
		SessionsDir:    s.SessionsDir,
		ConnectTimeout: s.ConnectTimeout,
		Log:            log.With(logx.String("comp", "mtproto")),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		settings: s,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		factory:  factory,
		updates:  make(chan kit.Update, 256),
	}

	a.exec = bulk.New(bulk.Options{
		Factory:      factory,
		Accounts:     store,
		Log:          log,
		CallTimeout:  s.CallTimeout,
		MaxFloodWait: s.MaxFloodWait,
	})
	a.ctrl = conversation.New(conversation.Deps{
		Store:       store,
		Factory:     factory,
		Executor:    a.exec,
		Sender:      ad,
		Log:         log,
		Go:          a.goBackground,
		CallTimeout: s.CallTimeout,
	}, conversation.Settings{
		Yes:         s.Yes,
		No:          s.No,
		IdleTimeout: s.IdleTimeout,
		Owners:      cfg.Telegram.OwnerUserIDs,
	})
	a.router = router.New(a.ctrl, ad, router.Options{
		Workers: cfg.Telegram.Workers,
		Timeout: 10 * time.Minute,
		Log:     log,
	})

	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg, s), log)
	}
	if cfg.Sweep.Enabled {
		a.sweep, err = sweep.New(mapSweepConfig(s), store, a.exec, a.ctrl, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return a, nil
}

// Store exposes the opened store to the embedding command.
func (a *App) Store() storage.Store { return a.store }

// goBackground runs bulk work under the app supervisor, so shutdown
// cancels it and waits for its final report. A panicking run is logged and
// never cancels the app.
func (a *App) goBackground(name string, fn func(ctx context.Context)) {
	a.sup.GoIsolated(name, fn)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		s, err := config.Resolve(cfg)
		if err != nil {
			return err
		}
		if cfg.Sweep.Enabled {
			if _, err := sweep.ParseSchedule(s.SweepSchedule); err != nil {
				return fmt.Errorf("sweep.schedule: %w", err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	if err := router.PublishMenu(c, a.adapter, conversation.MenuCommands()); err != nil {
		a.log.Warn("menu commands not published", logx.Err(err))
	}

	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go("conversation.evict", a.ctrl.Run)

	if a.ops != nil {
		a.ops.AddProbe("app", a.sup.Counters)
		a.ops.AddProbe("telegram.adapter", func() supervisor.Counters { return a.adapter.Supervisor().Counters() })
		// A bind failure keeps retrying and never cancels the app.
		a.sup.GoRestart("ops.serve", a.ops.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithPublishFirstError(false),
		)
	}
	if a.sweep != nil {
		a.sup.Go("sweep", a.sweep.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("ops", a.ops != nil),
		logx.Bool("sweep", a.sweep != nil),
		logx.Duration("max_flood_wait", a.settings.MaxFloodWait),
	)
	return nil
}

// applyConfig pushes the hot-reloadable parts of next into live components.
// Storage, tokens and listener addresses need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	s, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if chatID, ok := logTarget(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	a.adapter.SetSendRate(next.Telegram.SendRatePerSec)
	a.exec.SetMaxFloodWait(s.MaxFloodWait)
	a.ctrl.SetSettings(conversation.Settings{
		Yes:         s.Yes,
		No:          s.No,
		IdleTimeout: s.IdleTimeout,
		Owners:      next.Telegram.OwnerUserIDs,
	})
	if a.sweep != nil {
		if err := a.sweep.Apply(ctx, mapSweepConfig(s)); err != nil {
			a.log.Warn("sweep schedule not applied", logx.Err(err))
		}
	}

	var restart []string
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.Workers != next.Telegram.Workers {
		restart = append(restart, "telegram")
	}
	if prev.Storage != next.Storage {
		restart = append(restart, "storage")
	}
	if prev.Remote != next.Remote {
		restart = append(restart, "remote")
	}
	if prev.Ops != next.Ops || prev.Sweep.Enabled != next.Sweep.Enabled {
		restart = append(restart, "ops/sweep")
	}
	if len(restart) > 0 {
		a.log.Warn("some changes take effect after restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.settings = s
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Each step is bounded.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	// Bulk runs finish their current account and deliver the final report.
	step("supervisor", 12*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func firstNonEmpty(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
