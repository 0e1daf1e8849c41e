package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is the JSON document path
//   - "sqlite": Path is the database file
//   - "postgres": DSN is the connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default

	SecretKey     string
	SecretKeyFile string
}

// AccountRecord is one authorized remote account owned by an operator.
// It is only ever written after the remote side confirmed authorization.
type AccountRecord struct {
	OperatorID int64     `json:"operator_id"`
	AppID      int       `json:"app_id"`
	AppSecret  string    `json:"app_secret"`
	SessionRef string    `json:"session_ref"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Operator is a bot user. Registered on first contact.
type Operator struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	FirstSeen time.Time `json:"first_seen"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	OperatorID int64     `json:"operator_id"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	OK         int       `json:"ok"`
	Noop       int       `json:"noop"`
	Fail       int       `json:"fail"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
	Meta       string    `json:"meta,omitempty"`
}
