// Package sweep periodically probes every operator's accounts so sessions
// revoked on the remote side are pruned without an operator action.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tgfleet/internal/bulk"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

type Store interface {
	ListOperators(ctx context.Context) ([]storage.Operator, error)
	ListAccounts(ctx context.Context, operatorID int64) ([]storage.AccountRecord, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Executor interface {
	Execute(ctx context.Context, req bulk.Request, accounts []storage.AccountRecord, rep bulk.Reporter) (bulk.Result, error)
}

// Gate keeps the sweep off operators that are busy. Reserve returns ok=false
// when the operator must be skipped this round.
type Gate interface {
	Reserve(operatorID int64) (release func(), ok bool)
}

type Config struct {
	Schedule string // cron expression; 5 or 6 fields, or a descriptor
	Location *time.Location
	// Timeout bounds one full sweep. 0 = 1h.
	Timeout time.Duration
}

// Summary is the outcome of one sweep across all operators.
type Summary struct {
	Operators int
	Skipped   int // busy operators
	Accounts  int
	Removed   int
	Failed    int
	Took      time.Duration
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	return parser.Parse(spec)
}

type Service struct {
	store Store
	exec  Executor
	gate  Gate
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron

	busy atomic.Bool
}

func New(cfg Config, store Store, exec Executor, gate Gate, log logx.Logger) (*Service, error) {
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", cfg.Schedule, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		exec:  exec,
		gate:  gate,
		log:   log.With(logx.String("comp", "sweep")),
		now:   time.Now,
	}, nil
}

// Run schedules sweeps until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if err := s.startLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		// Running jobs see ctx canceled; wait for them briefly.
		select {
		case <-c.Stop().Done():
		case <-time.After(5 * time.Second):
		}
	}
	s.log.Info("service stopped")
	return nil
}

func (s *Service) startLocked(ctx context.Context) error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.trigger(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	if next := c.Entries(); len(next) > 0 {
		s.log.Info("service started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()), logx.Time("next", next[0].Next))
	}
	return nil
}

// Apply swaps the schedule or timezone at runtime. The running cron, if
// any, is restarted with the new settings.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", cfg.Schedule, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil || (prev.Schedule == cfg.Schedule && prev.Location.String() == cfg.Location.String()) {
		return nil
	}
	<-s.c.Stop().Done()
	return s.startLocked(ctx)
}

func (s *Service) trigger(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warn("previous sweep still running, tick skipped")
		return
	}
	defer s.busy.Store(false)
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", logx.Err(err))
	}
}

// RunOnce probes every operator's accounts once. Operators the gate
// refuses are skipped.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	ops, err := s.store.ListOperators(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list operators: %w", err)
	}
	var sum Summary
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		n, err := s.sweepOperator(ctx, op.ID, &sum)
		if err != nil {
			s.log.Warn("operator sweep failed", logx.Int64("operator", op.ID), logx.Err(err))
			continue
		}
		if n > 0 {
			sum.Operators++
		}
	}
	sum.Took = s.now().Sub(start)
	sweepsTotal.Inc()
	s.log.Info("sweep done",
		logx.Int("operators", sum.Operators),
		logx.Int("skipped", sum.Skipped),
		logx.Int("accounts", sum.Accounts),
		logx.Int("removed", sum.Removed),
		logx.Int("failed", sum.Failed),
		logx.Duration("took", sum.Took),
	)
	return sum, ctx.Err()
}

func (s *Service) sweepOperator(ctx context.Context, op int64, sum *Summary) (int, error) {
	accounts, err := s.store.ListAccounts(ctx, op)
	if err != nil || len(accounts) == 0 {
		return 0, err
	}
	if s.gate != nil {
		release, ok := s.gate.Reserve(op)
		if !ok {
			sum.Skipped++
			return 0, nil
		}
		defer release()
	}

	res, err := s.exec.Execute(ctx, bulk.Request{OperatorID: op, Action: bulk.Probe}, accounts, nil)
	if err != nil {
		return 0, err
	}
	sum.Accounts += len(res.Outcomes)
	sum.Removed += res.Removed
	sum.Failed += res.Failed - res.Removed

	if err := s.store.AppendAudit(context.WithoutCancel(ctx), storage.AuditEntry{
		At:         s.now(),
		OperatorID: op,
		Action:     "sweep",
		OK:         res.Succeeded,
		Noop:       res.Noop,
		Fail:       res.Failed,
		TookMS:     res.Took.Milliseconds(),
		Meta:       fmt.Sprintf("removed=%d interrupted=%t", res.Removed, res.Interrupted),
	}); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
	return len(res.Outcomes), nil
}
