// Package router fans inbound updates out to a fixed set of shard workers.
// Updates from one operator always land on the same shard, so they are
// handled in arrival order; different operators proceed in parallel.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"tgfleet/internal/runtime/supervisor"
	kit "tgfleet/internal/transport"
	logx "tgfleet/pkg/logx"
)

// Handler consumes routed updates.
type Handler interface {
	HandleMessage(ctx context.Context, m *kit.Message) error
	HandleCallback(ctx context.Context, cb *kit.Callback) error
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	ReqID  string
	Logger logx.Logger
}

type Options struct {
	Workers   int           // shard count; default NumCPU (min 2)
	QueueSize int           // per shard; default 64
	Timeout   time.Duration // per update; 0 = none
	Log       logx.Logger
	// Phase feeds request logs. Nil falls back to the handler when it has
	// a Phase(operatorID int64) string method.
	Phase PhaseFunc
}

type Router struct {
	h      Handler
	sender kit.Sender
	log    logx.Logger
	opt    Options
	final  HandlerFunc

	shards []chan func()
}

func New(h Handler, sender kit.Sender, opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	r := &Router{
		h:      h,
		sender: sender,
		log:    opt.Log.With(logx.String("comp", "telegram.router")),
		opt:    opt,
	}
	if opt.Phase == nil {
		if p, ok := h.(interface{ Phase(operatorID int64) string }); ok {
			opt.Phase = p.Phase
		}
	}
	r.opt = opt
	r.final = Chain(r.serve,
		MWPanicRecover(r.log, sender),
		MWRequestLog(r.log, opt.Phase),
		MWTimeout(opt.Timeout, r.log),
	)
	return r
}

func (r *Router) serve(ctx context.Context, req *Request) error {
	switch req.Update.Kind {
	case kit.UpdateMessage:
		return r.h.HandleMessage(ctx, req.Update.Message)
	case kit.UpdateCallback:
		return r.h.HandleCallback(ctx, req.Update.Callback)
	}
	return nil
}

func shardOf(id int64, n int) int {
	if id < 0 {
		id = -id
	}
	return int(id % int64(n))
}

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.shards = make([]chan func(), r.opt.Workers)
	for i := range r.shards {
		r.shards[i] = make(chan func(), r.opt.QueueSize)
	}
	r.log.Info("router started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", r.opt.QueueSize))

	for i, jobs := range r.shards {
		idx, jobs := i, jobs
		sup.GoRestart("router.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in shard job", logx.Int("shard", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		for _, ch := range r.shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	from := up.OperatorID()
	if from == 0 {
		return
	}
	req := &Request{Update: up, FromID: from, ReqID: newReqID()}
	switch {
	case up.Message != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
	case up.Callback != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Callback.ChatID, ThreadID: up.Callback.ThreadID}
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", from),
	)

	job := func() { _ = r.final(root, req) }
	select {
	case r.shards[shardOf(from, len(r.shards))] <- job:
	default:
		req.Logger.Warn("shard queue full, update dropped")
		if up.Callback != nil {
			_ = r.sender.AnswerCallback(root, up.Callback.ID, "busy, try again")
			return
		}
		_, _ = r.sender.SendText(root, req.Chat, "busy, try again", nil)
	}
}

var ridSeq atomic.Uint64

func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}
