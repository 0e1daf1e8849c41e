package remote

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	Unknown Kind = iota
	RateLimited
	InvalidCredential
	AlreadyMember
	NotMember
	Banned
	AccessDenied
	WriteForbidden
	StaleSession
	CodeExpired
	PasswordNeeded
)

var kindNames = [...]string{
	Unknown:           "unknown",
	RateLimited:       "rate-limited",
	InvalidCredential: "invalid-credential",
	AlreadyMember:     "already-member",
	NotMember:         "not-member",
	Banned:            "banned",
	AccessDenied:      "access-denied",
	WriteForbidden:    "write-forbidden",
	StaleSession:      "stale-session",
	CodeExpired:       "code-expired",
	PasswordNeeded:    "password-needed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is an expected remote condition. Wait is set for RateLimited.
type Error struct {
	Kind   Kind
	Wait   time.Duration
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == RateLimited {
		msg += fmt.Sprintf(" (wait %s)", e.Wait)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same Kind, so errors.Is(err, &Error{Kind: Banned}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NewError(kind Kind, detail string) *Error { return &Error{Kind: kind, Detail: detail} }

func RateLimit(wait time.Duration) *Error { return &Error{Kind: RateLimited, Wait: wait} }

// KindOf classifies err. Non-remote errors are Unknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return Unknown
}

// WaitOf returns the wait carried by a RateLimited error.
func WaitOf(err error) (time.Duration, bool) {
	var re *Error
	if errors.As(err, &re) && re.Kind == RateLimited {
		return re.Wait, true
	}
	return 0, false
}
