package bulk

import (
	"context"
	"time"

	"tgfleet/internal/remote"
)

type Action string

const (
	Join      Action = "join"
	Leave     Action = "leave"
	Broadcast Action = "broadcast"
	Check     Action = "check" // membership check, nothing changes remotely
	Probe     Action = "probe" // authorization only; used by the pool sweep
)

// Request is one bulk invocation for one operator.
type Request struct {
	OperatorID int64
	Action     Action
	Target     remote.GroupRef
	Message    string // broadcast only
	Delay      Delay  // between accounts, never after the last
	Limit      int    // 0 = all accounts, in store listing order
}

type OutcomeKind string

const (
	OK           OutcomeKind = "ok"
	Noop         OutcomeKind = "ok-noop"
	Failed       OutcomeKind = "failed"
	RateLimited  OutcomeKind = "rate-limited"
	RemovedStale OutcomeKind = "removed-stale"
	Skipped      OutcomeKind = "skipped"
)

// Outcome is the per-account record.
type Outcome struct {
	Account string // session ref
	Handle  string // resolved display handle, or Account when unresolved
	Kind    OutcomeKind
	Detail  string
	Wait    time.Duration // rate-limited only
}

// Result tallies one invocation. Succeeded + Failed + Noop equals len(Outcomes).
type Result struct {
	Action      Action
	Target      remote.GroupRef
	Succeeded   int
	Failed      int
	Noop        int
	Removed     int
	Outcomes    []Outcome
	Took        time.Duration
	Interrupted bool // context canceled before every account was processed
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OK:
		r.Succeeded++
	case Noop:
		r.Noop++
	case RemovedStale:
		r.Removed++
		r.Failed++
	default:
		r.Failed++
	}
}

// Reporter receives outcomes as they happen, one account at a time.
type Reporter interface {
	Report(ctx context.Context, o Outcome)
}

type ReporterFunc func(ctx context.Context, o Outcome)

func (f ReporterFunc) Report(ctx context.Context, o Outcome) { f(ctx, o) }

type nopReporter struct{}

func (nopReporter) Report(context.Context, Outcome) {}
