// Package mtproto implements remote.Factory on top of gotd/td.
//
// Each session ref names a gotd JSON session file inside the sessions
// directory. A Client owns one telegram.Client whose Run loop lives between
// Connect and Close.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"tgfleet/internal/remote"
	logx "tgfleet/pkg/logx"
)

type Options struct {
	SessionsDir    string
	ConnectTimeout time.Duration
	Log            logx.Logger
}

type Factory struct {
	opt Options
}

func NewFactory(opt Options) (*Factory, error) {
	if strings.TrimSpace(opt.SessionsDir) == "" {
		return nil, errors.New("sessions dir is required")
	}
	if err := os.MkdirAll(opt.SessionsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = 30 * time.Second
	}
	return &Factory{opt: opt}, nil
}

func (f *Factory) path(sessionRef string) (string, error) {
	name := filepath.Base(sessionRef)
	if name != sessionRef || name == "." || name == ".." {
		return "", fmt.Errorf("invalid session ref %q", sessionRef)
	}
	return filepath.Join(f.opt.SessionsDir, name), nil
}

func (f *Factory) Open(cred remote.Credential, sessionRef string) (remote.Client, error) {
	if cred.AppID <= 0 || cred.AppSecret == "" {
		return nil, remote.NewError(remote.InvalidCredential, "app id and secret are required")
	}
	p, err := f.path(sessionRef)
	if err != nil {
		return nil, err
	}
	tc := telegram.NewClient(cred.AppID, cred.AppSecret, telegram.Options{
		SessionStorage: &session.FileStorage{Path: p},
		NoUpdates:      true,
	})
	return &Client{
		tc:             tc,
		ref:            sessionRef,
		connectTimeout: f.opt.ConnectTimeout,
		log:            f.opt.Log.With(logx.String("session", sessionRef)),
	}, nil
}

func (f *Factory) Remove(sessionRef string) error {
	p, err := f.path(sessionRef)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type Client struct {
	tc             *telegram.Client
	ref            string
	connectTimeout time.Duration
	log            logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// Connect starts the gotd run loop and returns once it is ready.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	// The run loop must outlive ctx: it spans every call until Close.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.tc.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	t := time.NewTimer(c.connectTimeout)
	defer t.Stop()
	select {
	case <-ready:
		c.cancel, c.done = cancel, done
		c.log.Debug("remote client connected")
		return nil
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("client stopped before ready")
		}
		return classify(err)
	case <-t.C:
		cancel()
		<-done
		return remote.NewError(remote.Unknown, "connect timeout")
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := <-done
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("remote client closed with error", logx.Err(err))
		return err
	}
	return nil
}

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	st, err := c.tc.Auth().Status(ctx)
	if err != nil {
		e := classify(err)
		if remote.KindOf(e) == remote.StaleSession {
			return false, nil
		}
		return false, e
	}
	return st.Authorized, nil
}

func (c *Client) RequestCode(ctx context.Context, phone string) (remote.CodeToken, error) {
	sent, err := c.tc.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", classify(err)
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return remote.CodeToken(s.PhoneCodeHash), nil
	case *tg.AuthSentCodeSuccess:
		return "", remote.NewError(remote.Unknown, "session already authorized")
	default:
		return "", remote.NewError(remote.Unknown, fmt.Sprintf("unexpected sent code %T", sent))
	}
}

func (c *Client) SignIn(ctx context.Context, phone, code string, token remote.CodeToken) error {
	_, err := c.tc.Auth().SignIn(ctx, phone, code, string(token))
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return &remote.Error{Kind: remote.PasswordNeeded, Err: err}
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return &remote.Error{Kind: remote.InvalidCredential, Detail: "phone number is not registered", Err: err}
	}
	return classify(err)
}

func (c *Client) SignInPassword(ctx context.Context, password string) error {
	_, err := c.tc.Auth().Password(ctx, password)
	if errors.Is(err, auth.ErrPasswordInvalid) {
		return &remote.Error{Kind: remote.InvalidCredential, Detail: "wrong password", Err: err}
	}
	return classify(err)
}

func (c *Client) WhoAmI(ctx context.Context) (remote.Identity, error) {
	u, err := c.tc.Self(ctx)
	if err != nil {
		return remote.Identity{}, classify(err)
	}
	return remote.Identity{ID: u.ID, Username: u.Username, FirstName: u.FirstName, Phone: u.Phone}, nil
}

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }
