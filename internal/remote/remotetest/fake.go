// Package remotetest provides an in-memory remote.Factory for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"tgfleet/internal/remote"
)

// Account scripts the behaviour of one persisted session. The zero value is
// an unauthorized session whose every call succeeds.
type Account struct {
	Authorized bool
	// AuthSeq overrides Authorized for successive IsAuthorized calls; the
	// last value repeats.
	AuthSeq []bool

	OpenErr     error
	ConnectErr  error
	AuthErr     error // returned by IsAuthorized
	Identity    remote.Identity
	IdentityErr error

	RequestCodeErrs []error // consumed per call; nil entries succeed
	SignInErrs      []error // consumed per call; nil entries succeed
	Password        string  // expected second factor
	PasswordErr     error

	JoinErr, LeaveErr, SendErr error
	Member                     bool
	MemberErr                  error

	mu       sync.Mutex
	authIdx  int
	codes    int
	Calls    []string
	Sent     []string
	LastCode remote.CodeToken
}

func (a *Account) record(call string) {
	a.mu.Lock()
	a.Calls = append(a.Calls, call)
	a.mu.Unlock()
}

// CallLog returns a copy of the recorded calls.
func (a *Account) CallLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Calls...)
}

// Factory hands out clients bound to scripted Accounts keyed by session ref.
type Factory struct {
	mu       sync.Mutex
	Accounts map[string]*Account
	// New builds the account for a session ref seen for the first time.
	// Nil yields a zero Account.
	New func(sessionRef string) *Account

	Opened  int
	Closed  int
	Removed []string
	Creds   map[string]remote.Credential
}

func NewFactory() *Factory {
	return &Factory{Accounts: map[string]*Account{}, Creds: map[string]remote.Credential{}}
}

// Set registers a scripted account.
func (f *Factory) Set(sessionRef string, a *Account) *Account {
	f.mu.Lock()
	f.Accounts[sessionRef] = a
	f.mu.Unlock()
	return a
}

func (f *Factory) Get(sessionRef string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Accounts[sessionRef]
}

func (f *Factory) Open(cred remote.Credential, sessionRef string) (remote.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[sessionRef]
	if !ok {
		a = &Account{}
		if f.New != nil {
			a = f.New(sessionRef)
		}
		f.Accounts[sessionRef] = a
	}
	if a.OpenErr != nil {
		return nil, a.OpenErr
	}
	f.Opened++
	f.Creds[sessionRef] = cred
	return &client{f: f, a: a}, nil
}

func (f *Factory) Remove(sessionRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, sessionRef)
	delete(f.Accounts, sessionRef)
	return nil
}

// Balanced reports whether every opened client was closed.
func (f *Factory) Balanced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Opened == f.Closed
}

type client struct {
	f      *Factory
	a      *Account
	closed bool
}

func (c *client) Connect(ctx context.Context) error {
	c.a.record("connect")
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.a.ConnectErr
}

func (c *client) IsAuthorized(ctx context.Context) (bool, error) {
	c.a.record("is-authorized")
	a := c.a
	if a.AuthErr != nil {
		return false, a.AuthErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.AuthSeq) == 0 {
		return a.Authorized, nil
	}
	v := a.AuthSeq[min(a.authIdx, len(a.AuthSeq)-1)]
	a.authIdx++
	return v, nil
}

func (c *client) RequestCode(ctx context.Context, phone string) (remote.CodeToken, error) {
	c.a.record("request-code")
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.RequestCodeErrs) > 0 {
		err := a.RequestCodeErrs[0]
		a.RequestCodeErrs = a.RequestCodeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	a.codes++
	a.LastCode = remote.CodeToken(fmt.Sprintf("hash-%d", a.codes))
	return a.LastCode, nil
}

func (c *client) SignIn(ctx context.Context, phone, code string, token remote.CodeToken) error {
	c.a.record("sign-in")
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()
	if token != a.LastCode {
		return remote.NewError(remote.InvalidCredential, "stale code token")
	}
	if len(a.SignInErrs) > 0 {
		err := a.SignInErrs[0]
		a.SignInErrs = a.SignInErrs[1:]
		if err != nil {
			return err
		}
	}
	a.Authorized = true
	return nil
}

func (c *client) SignInPassword(ctx context.Context, password string) error {
	c.a.record("sign-in-password")
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PasswordErr != nil {
		return a.PasswordErr
	}
	if password != a.Password {
		return remote.NewError(remote.InvalidCredential, "PASSWORD_HASH_INVALID")
	}
	a.Authorized = true
	return nil
}

func (c *client) Join(ctx context.Context, ref remote.GroupRef) error {
	c.a.record("join " + ref.String())
	return c.a.JoinErr
}

func (c *client) Leave(ctx context.Context, ref remote.GroupRef) error {
	c.a.record("leave " + ref.String())
	return c.a.LeaveErr
}

func (c *client) SendMessage(ctx context.Context, ref remote.GroupRef, text string) error {
	c.a.record("send " + ref.String())
	if c.a.SendErr != nil {
		return c.a.SendErr
	}
	c.a.mu.Lock()
	c.a.Sent = append(c.a.Sent, text)
	c.a.mu.Unlock()
	return nil
}

func (c *client) IsMember(ctx context.Context, ref remote.GroupRef) (bool, error) {
	c.a.record("is-member " + ref.String())
	return c.a.Member, c.a.MemberErr
}

func (c *client) WhoAmI(ctx context.Context) (remote.Identity, error) {
	c.a.record("whoami")
	return c.a.Identity, c.a.IdentityErr
}

func (c *client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.a.record("close")
	c.f.mu.Lock()
	c.f.Closed++
	c.f.mu.Unlock()
	return nil
}
