// Package auth drives one remote account from raw credentials to a
// persisted, authorized session.
//
//	CollectingAppID -> CollectingAppSecret -> CollectingPhone -> AwaitingCode -> [AwaitingPassword] -> Done
//
// The account record is written only after the remote side confirms full
// authorization. Every step opens and closes its own client.
package auth

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"tgfleet/internal/remote"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

type Step int

const (
	CollectingAppID Step = iota
	CollectingAppSecret
	CollectingPhone
	AwaitingCode
	AwaitingPassword
	Done
)

func (s Step) String() string {
	switch s {
	case CollectingAppID:
		return "collecting-app-id"
	case CollectingAppSecret:
		return "collecting-app-secret"
	case CollectingPhone:
		return "collecting-phone"
	case AwaitingCode:
		return "awaiting-code"
	case AwaitingPassword:
		return "awaiting-password"
	case Done:
		return "done"
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// Outcome of a Submit call.
type Outcome int

const (
	Continue      Outcome = iota // advanced to the next step
	Reprompt                     // input rejected, same step
	Succeeded                    // record persisted
	AlreadyActive                // session was authorized already; nothing changed
	Failed
)

func (o Outcome) Terminal() bool { return o >= Succeeded }

func (o Outcome) String() string {
	return [...]string{"continue", "reprompt", "succeeded", "already-active", "failed"}[o]
}

// Session accumulates what the operator typed. Lives for one flow run.
type Session struct {
	AppID       int
	AppSecret   string
	Phone       string // "+" followed by digits
	CodeToken   remote.CodeToken
	Password    string
	codeResends int
}

// SessionRef names the persisted session of one operator's phone. Two
// operators enrolling the same phone get separate artifacts.
func SessionRef(operatorID int64, phone string) string {
	return fmt.Sprintf("%d_%s.session", operatorID, strings.TrimPrefix(phone, "+"))
}

// Accounts is the part of the store the flow reads and writes.
type Accounts interface {
	ListAccounts(ctx context.Context, operatorID int64) ([]storage.AccountRecord, error)
	AddAccount(ctx context.Context, rec storage.AccountRecord) error
}

type Deps struct {
	Factory     remote.Factory
	Accounts    Accounts
	Log         logx.Logger
	CallTimeout time.Duration // per step; 0 = caller ctx only
	Now         func() time.Time
}

type Flow struct {
	operatorID int64
	deps       Deps
	step       Step
	sess       Session
	// recorded is set when the operator already holds a record for the
	// session; a failed flow then leaves the artifact in place.
	recorded bool
}

type Result struct {
	Outcome Outcome
	Reply   string
}

var (
	phoneRe = regexp.MustCompile(`^\+\d{7,15}$`)
	codeRe  = regexp.MustCompile(`^\d{4,8}$`)
)

func New(operatorID int64, deps Deps) *Flow {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Flow{operatorID: operatorID, deps: deps}
}

func (f *Flow) Step() Step { return f.step }

// Session returns a copy of the collected values.
func (f *Flow) Session() Session { return f.sess }

// Prompt is the question for the current step.
func (f *Flow) Prompt() string { return promptFor(f.step) }

// Submit feeds one operator answer to the current step.
func (f *Flow) Submit(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	var res Result
	switch f.step {
	case CollectingAppID:
		res = f.onAppID(text)
	case CollectingAppSecret:
		res = f.onAppSecret(text)
	case CollectingPhone:
		res = f.onPhone(ctx, text)
	case AwaitingCode:
		res = f.onCode(ctx, text)
	case AwaitingPassword:
		res = f.onPassword(ctx, text)
	default:
		return Result{Outcome: Failed, Reply: msgFlowFinished}
	}
	if res.Outcome.Terminal() {
		f.finish(res.Outcome)
	}
	return res
}

func (f *Flow) finish(o Outcome) {
	f.step = Done
	f.sess = Session{}
	f.recorded = false
	flowResults.WithLabelValues(o.String()).Inc()
}

func (f *Flow) advance(to Step) Result {
	f.step = to
	return Result{Outcome: Continue, Reply: promptFor(to)}
}

func (f *Flow) onAppID(text string) Result {
	id, err := strconv.Atoi(text)
	if err != nil || id <= 0 {
		return Result{Outcome: Reprompt, Reply: msgBadAppID}
	}
	f.sess.AppID = id
	return f.advance(CollectingAppSecret)
}

func (f *Flow) onAppSecret(text string) Result {
	if text == "" {
		return Result{Outcome: Reprompt, Reply: promptFor(CollectingAppSecret)}
	}
	f.sess.AppSecret = text
	return f.advance(CollectingPhone)
}

func (f *Flow) onPhone(ctx context.Context, text string) Result {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(text)
	if !phoneRe.MatchString(phone) {
		return Result{Outcome: Reprompt, Reply: msgBadPhone}
	}
	f.sess.Phone = phone

	recs, err := f.deps.Accounts.ListAccounts(ctx, f.operatorID)
	if err != nil {
		return f.fail("lookup", err)
	}
	ref := f.ref()
	f.recorded = slices.ContainsFunc(recs, func(r storage.AccountRecord) bool { return r.SessionRef == ref })

	var already bool
	err = f.withClient(ctx, func(ctx context.Context, c remote.Client) error {
		ok, err := c.IsAuthorized(ctx)
		if err != nil {
			return err
		}
		if ok {
			already = true
			return nil
		}
		tok, err := c.RequestCode(ctx, phone)
		if err != nil {
			return err
		}
		f.sess.CodeToken = tok
		return nil
	})
	switch {
	case err != nil:
		return f.fail("request code", err)
	case already:
		f.log().Info("session already active", logx.String("session", ref))
		return Result{Outcome: AlreadyActive, Reply: msgAlreadyActive}
	}
	return f.advance(AwaitingCode)
}

func (f *Flow) onCode(ctx context.Context, text string) Result {
	code := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == ' ' || r == '-' || r == '.' {
			return -1
		}
		return 'x'
	}, text)
	if !codeRe.MatchString(code) {
		return Result{Outcome: Reprompt, Reply: msgBadCode}
	}

	var resent bool
	err := f.withClient(ctx, func(ctx context.Context, c remote.Client) error {
		err := c.SignIn(ctx, f.sess.Phone, code, f.sess.CodeToken)
		if remote.KindOf(err) == remote.CodeExpired && f.sess.codeResends == 0 {
			tok, rerr := c.RequestCode(ctx, f.sess.Phone)
			if rerr != nil {
				return rerr
			}
			f.sess.CodeToken = tok
			f.sess.codeResends++
			resent = true
			return nil
		}
		if err != nil {
			return err
		}
		return f.confirmAndPersist(ctx, c)
	})
	switch {
	case resent:
		return Result{Outcome: Continue, Reply: msgCodeResent}
	case remote.KindOf(err) == remote.PasswordNeeded:
		return f.advance(AwaitingPassword)
	case err != nil:
		return f.fail("sign in", err)
	}
	return Result{Outcome: Succeeded, Reply: msgAccountAdded}
}

func (f *Flow) onPassword(ctx context.Context, text string) Result {
	if text == "" {
		return Result{Outcome: Reprompt, Reply: promptFor(AwaitingPassword)}
	}
	f.sess.Password = text
	err := f.withClient(ctx, func(ctx context.Context, c remote.Client) error {
		if err := c.SignInPassword(ctx, text); err != nil {
			return err
		}
		return f.confirmAndPersist(ctx, c)
	})
	if err != nil {
		return f.fail("password", err)
	}
	return Result{Outcome: Succeeded, Reply: msgAccountAdded}
}

// confirmAndPersist writes the record only once the client reports authorization.
func (f *Flow) confirmAndPersist(ctx context.Context, c remote.Client) error {
	ok, err := c.IsAuthorized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return remote.NewError(remote.InvalidCredential, "sign-in did not authorize the session")
	}
	rec := storage.AccountRecord{
		OperatorID: f.operatorID,
		AppID:      f.sess.AppID,
		AppSecret:  f.sess.AppSecret,
		SessionRef: f.ref(),
		Phone:      f.sess.Phone,
		CreatedAt:  f.deps.Now().UTC(),
	}
	if err := f.deps.Accounts.AddAccount(ctx, rec); err != nil {
		return fmt.Errorf("persist account: %w", err)
	}
	f.log().Info("account added", logx.String("session", rec.SessionRef))
	return nil
}

func (f *Flow) withClient(ctx context.Context, fn func(ctx context.Context, c remote.Client) error) error {
	if f.deps.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.deps.CallTimeout)
		defer cancel()
	}
	c, err := f.deps.Factory.Open(remote.Credential{AppID: f.sess.AppID, AppSecret: f.sess.AppSecret}, f.ref())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}

func (f *Flow) fail(stage string, err error) Result {
	ref := f.ref()
	f.log().Warn("auth flow failed", logx.String("stage", stage), logx.String("session", ref), logx.Err(err))
	if f.step >= AwaitingCode && !f.recorded {
		// The session was seen unauthorized and never got there; drop the artifact.
		if rerr := f.deps.Factory.Remove(ref); rerr != nil {
			f.log().Debug("remove session artifact", logx.String("session", ref), logx.Err(rerr))
		}
	}
	return Result{Outcome: Failed, Reply: failureText(err)}
}

func (f *Flow) ref() string { return SessionRef(f.operatorID, f.sess.Phone) }

func (f *Flow) log() logx.Logger {
	return f.deps.Log.With(logx.String("comp", "auth"), logx.Int64("operator", f.operatorID), logx.String("step", f.step.String()))
}
