package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tgfleet/internal/secrets"
	logx "tgfleet/pkg/logx"
)

// Store is the persistence API used by the conversation controller, the
// bulk executor and the CLI. Implementations are safe for concurrent use.
type Store interface {
	// EnsureOperator registers the operator on first contact and refreshes
	// the username afterwards. IsAdmin and FirstSeen of existing rows are kept.
	EnsureOperator(ctx context.Context, op Operator) error
	GetOperator(ctx context.Context, id int64) (Operator, error)
	ListOperators(ctx context.Context) ([]Operator, error)
	// IsOperatorAdmin reports false for unknown operators.
	IsOperatorAdmin(ctx context.Context, id int64) (bool, error)
	// SetAdmin returns ErrNotFound when the operator never contacted the bot.
	SetAdmin(ctx context.Context, id int64, admin bool) error

	// ListAccounts returns the operator's accounts in insertion order.
	ListAccounts(ctx context.Context, operatorID int64) ([]AccountRecord, error)
	// AddAccount inserts or replaces the record keyed by (operator, session ref).
	AddAccount(ctx context.Context, rec AccountRecord) error
	// DeleteAccount reports whether a record was removed.
	DeleteAccount(ctx context.Context, operatorID int64, sessionRef string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store and applies sealing when a key is set.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		st, err = openPostgres(ctx, cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	box, err := secrets.LoadBox(cfg.SecretKey, cfg.SecretKeyFile)
	switch {
	case errors.Is(err, secrets.ErrNoKey):
		log.Warn("storage: no secret key configured; app secrets are stored in plaintext")
		return st, nil
	case err != nil:
		_ = st.Close()
		return nil, err
	}
	return Sealed(st, box), nil
}
