// Package bulk fans one action out across an operator's accounts,
// sequentially, with throttling between accounts and per-account failure
// containment.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tgfleet/internal/remote"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

// Accounts is the part of the store the executor mutates (stale self-heal).
type Accounts interface {
	DeleteAccount(ctx context.Context, operatorID int64, sessionRef string) (bool, error)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Factory  remote.Factory
	Accounts Accounts
	Log      logx.Logger

	// CallTimeout bounds each remote call sequence per account. 0 = none.
	CallTimeout time.Duration
	// MaxFloodWait skips rate-limit waits longer than this. 0 = always wait.
	MaxFloodWait time.Duration

	Sleep SleepFunc
	Rand  *rand.Rand
	Now   func() time.Time
}

type Executor struct {
	factory     remote.Factory
	accounts    Accounts
	log         logx.Logger
	callTimeout time.Duration
	sleep       SleepFunc
	now         func() time.Time

	maxFloodWait atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(opt Options) *Executor {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepCtx
	}
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	e := &Executor{
		factory:     opt.Factory,
		accounts:    opt.Accounts,
		log:         opt.Log.With(logx.String("comp", "bulk")),
		callTimeout: opt.CallTimeout,
		sleep:       opt.Sleep,
		now:         opt.Now,
		rng:         opt.Rand,
	}
	e.SetMaxFloodWait(opt.MaxFloodWait)
	return e
}

// SetMaxFloodWait updates the rate-limit cap; safe during runs (config reload).
func (e *Executor) SetMaxFloodWait(d time.Duration) { e.maxFloodWait.Store(int64(d)) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var ErrInvalidRequest = errors.New("invalid bulk request")

func validate(req Request) error {
	switch req.Action {
	case Join, Leave, Check:
		if req.Target.Kind == 0 {
			return fmt.Errorf("%w: %s needs a target group", ErrInvalidRequest, req.Action)
		}
	case Broadcast:
		if req.Target.Kind == 0 || strings.TrimSpace(req.Message) == "" {
			return fmt.Errorf("%w: broadcast needs a target group and a message", ErrInvalidRequest)
		}
	case Probe:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}
	if req.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	return nil
}

// Execute runs req over accounts in order. An empty list yields an empty
// result. Only a malformed request is an error; remote failures are
// contained in the per-account outcomes.
func (e *Executor) Execute(ctx context.Context, req Request, accounts []storage.AccountRecord, rep Reporter) (Result, error) {
	res := Result{Action: req.Action, Target: req.Target}
	if err := validate(req); err != nil {
		return res, err
	}
	if rep == nil {
		rep = nopReporter{}
	}
	if req.Limit > 0 && req.Limit < len(accounts) {
		accounts = accounts[:req.Limit]
	}

	start := e.now()
	log := e.log.With(logx.Int64("operator", req.OperatorID), logx.String("action", string(req.Action)))
	log.Info("bulk run started", logx.Int("accounts", len(accounts)), logx.String("target", req.Target.String()), logx.String("delay", req.Delay.String()))

	for i, rec := range accounts {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		o := e.runOne(ctx, req, rec)
		res.add(o)
		outcomesTotal.WithLabelValues(string(req.Action), string(o.Kind)).Inc()
		log.Debug("account processed", logx.String("account", o.Account), logx.String("outcome", string(o.Kind)), logx.String("detail", o.Detail))
		rep.Report(ctx, o)

		if i == len(accounts)-1 {
			break
		}
		if err := e.sleep(ctx, e.drawDelay(req.Delay)); err != nil {
			res.Interrupted = true
			break
		}
	}

	res.Took = e.now().Sub(start)
	runSeconds.WithLabelValues(string(req.Action)).Observe(res.Took.Seconds())
	log.Info("bulk run finished",
		logx.Int("ok", res.Succeeded), logx.Int("noop", res.Noop), logx.Int("failed", res.Failed),
		logx.Int("removed", res.Removed), logx.Bool("interrupted", res.Interrupted), logx.Duration("took", res.Took))
	return res, nil
}

func (e *Executor) drawDelay(d Delay) time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return d.draw(e.rng)
}

// runOne processes one account. The client is always closed before any
// stale cleanup touches its session artifact.
func (e *Executor) runOne(ctx context.Context, req Request, rec storage.AccountRecord) Outcome {
	o := Outcome{Account: rec.SessionRef, Handle: rec.SessionRef}
	stale, o := e.attempt(ctx, req, rec, o)
	if stale {
		return e.removeStale(ctx, req.OperatorID, rec, o)
	}
	if o.Kind == RateLimited {
		o = e.honorWait(ctx, o)
	}
	return o
}

func (e *Executor) attempt(ctx context.Context, req Request, rec storage.AccountRecord, o Outcome) (stale bool, _ Outcome) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	cred := remote.Credential{AppID: rec.AppID, AppSecret: rec.AppSecret}

	c, err := e.open(ctx, cred, rec.SessionRef)
	if err != nil {
		if remote.KindOf(err) == remote.StaleSession {
			return true, o
		}
		o.Kind, o.Detail = Skipped, "connect: "+err.Error()
		return false, o
	}
	defer func() { _ = c.Close() }()

	ok, err := c.IsAuthorized(ctx)
	if err == nil && !ok {
		// One re-authentication pass with the stored credentials.
		_ = c.Close()
		var again remote.Client
		if again, err = e.open(ctx, cred, rec.SessionRef); err == nil {
			c = again
			ok, err = c.IsAuthorized(ctx)
		}
	}
	switch {
	case remote.KindOf(err) == remote.StaleSession:
		return true, o
	case err != nil:
		o.Kind, o.Detail = Skipped, "authorization check: "+err.Error()
		return false, o
	case !ok:
		return true, o
	}

	id, err := c.WhoAmI(ctx)
	switch {
	case err == nil:
		if h := id.Handle(); h != "" {
			o.Handle = h
		}
	case remote.KindOf(err) == remote.StaleSession:
		return true, o
	}

	err = e.perform(ctx, c, req, &o)
	if remote.KindOf(err) == remote.StaleSession {
		return true, o
	}
	classifyInto(&o, err)
	return false, o
}

func (e *Executor) open(ctx context.Context, cred remote.Credential, ref string) (remote.Client, error) {
	c, err := e.factory.Open(cred, ref)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (e *Executor) perform(ctx context.Context, c remote.Client, req Request, o *Outcome) error {
	switch req.Action {
	case Join:
		return c.Join(ctx, req.Target)
	case Leave:
		return c.Leave(ctx, req.Target)
	case Broadcast:
		return c.SendMessage(ctx, req.Target, req.Message)
	case Check:
		member, err := c.IsMember(ctx, req.Target)
		if err == nil && !member {
			return remote.NewError(remote.NotMember, "not subscribed")
		}
		if err == nil {
			o.Detail = "subscribed"
		}
		return err
	case Probe:
		return nil
	}
	return fmt.Errorf("unknown action %q", req.Action)
}

func classifyInto(o *Outcome, err error) {
	if err == nil {
		o.Kind = OK
		return
	}
	var re *remote.Error
	if !errors.As(err, &re) {
		o.Kind, o.Detail = Failed, err.Error()
		return
	}
	switch re.Kind {
	case remote.AlreadyMember, remote.NotMember:
		o.Kind = Noop
	case remote.RateLimited:
		o.Kind, o.Wait = RateLimited, re.Wait
	default:
		o.Kind = Failed
	}
	o.Detail = re.Kind.String()
	if re.Detail != "" && re.Detail != o.Detail {
		o.Detail += ": " + re.Detail
	}
}

// honorWait sleeps exactly the reported wait unless it exceeds the cap.
// The account is never retried.
func (e *Executor) honorWait(ctx context.Context, o Outcome) Outcome {
	limit := time.Duration(e.maxFloodWait.Load())
	if limit > 0 && o.Wait > limit {
		o.Detail = fmt.Sprintf("wait %s skipped (cap %s)", o.Wait, limit)
		return o
	}
	o.Detail = fmt.Sprintf("waited %s", o.Wait)
	if err := e.sleep(ctx, o.Wait); err != nil {
		o.Detail = fmt.Sprintf("wait %s interrupted", o.Wait)
		return o
	}
	floodWaitSeconds.Add(o.Wait.Seconds())
	return o
}

func (e *Executor) removeStale(ctx context.Context, operatorID int64, rec storage.AccountRecord, o Outcome) Outcome {
	o.Kind = RemovedStale
	o.Detail = "session no longer authorized, removed from the pool"
	// Cleanup must finish even if the run is being shut down.
	cctx := context.WithoutCancel(ctx)
	if _, err := e.accounts.DeleteAccount(cctx, operatorID, rec.SessionRef); err != nil {
		e.log.Error("delete stale account", logx.String("account", rec.SessionRef), logx.Err(err))
		o.Detail = "session no longer authorized; removing the record failed: " + err.Error()
		return o
	}
	if err := e.factory.Remove(rec.SessionRef); err != nil {
		e.log.Warn("remove stale session artifact", logx.String("account", rec.SessionRef), logx.Err(err))
	}
	e.log.Info("stale account removed", logx.Int64("operator", operatorID), logx.String("account", rec.SessionRef))
	return o
}
