package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	kit "tgfleet/internal/transport"
	logx "tgfleet/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// PhaseFunc reports an operator's dialog phase for request logs.
type PhaseFunc func(operatorID int64) string

const msgHandlerFailed = "⚠️ Something went wrong handling that. Please try again."

func (req *Request) logger(fallback logx.Logger) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// MWTimeout bounds one update. Handlers that overrun are logged with the
// operator so a stuck remote call can be traced to its dialog.
func MWTimeout(d time.Duration, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				req.logger(log).Warn("update exceeded handler timeout", logx.Duration("timeout", d))
			}
			return err
		}
	}
}

// MWPanicRecover turns a handler panic into an error and tells the operator
// the update was not processed. The operator's next message is handled
// normally.
func MWPanicRecover(log logx.Logger, sender kit.Sender) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
					if sender == nil || req == nil {
						return
					}
					if cb := req.Update.Callback; cb != nil {
						_ = sender.AnswerCallback(context.WithoutCancel(ctx), cb.ID, msgHandlerFailed)
						return
					}
					if req.Chat.ChatID != 0 {
						_, _ = sender.SendText(context.WithoutCancel(ctx), req.Chat, msgHandlerFailed, nil)
					}
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs each update with its operator, a redacted view of the
// input and the dialog phase before and after. Free text is never logged:
// it carries app secrets, login codes and passwords.
func MWRequestLog(log logx.Logger, phaseOf PhaseFunc) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := req.logger(log)
			var before string
			if phaseOf != nil {
				before = phaseOf(req.FromID)
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := append([]logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("operator", req.FromID),
				logx.Duration("dur", d),
			}, describeInput(req.Update)...)
			if phaseOf != nil {
				after := phaseOf(req.FromID)
				fields = append(fields, logx.String("phase", before))
				if after != before {
					fields = append(fields, logx.String("phase_to", after))
				}
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				// Auth steps and account lookups wait on Telegram; keep them visible.
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// describeInput names what the operator sent without its content. Slash
// commands keep the command word; callbacks keep scope and action and drop
// the payload.
func describeInput(up kit.Update) []logx.Field {
	switch {
	case up.Message != nil:
		text := strings.TrimSpace(up.Message.Text)
		if strings.HasPrefix(text, "/") {
			cmd, _, _ := strings.Cut(text, " ")
			return []logx.Field{logx.String("cmd", cmd)}
		}
		return []logx.Field{logx.Int("text_len", len([]rune(text)))}
	case up.Callback != nil:
		parts := strings.SplitN(up.Callback.Data, ":", 3)
		return []logx.Field{logx.String("cb", strings.Join(parts[:min(len(parts), 2)], ":"))}
	}
	return nil
}
