package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tgfleet/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; this also keeps ":memory:" a single shared database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	ddl, err := migration("sqlite")
	if err == nil {
		_, err = db.ExecContext(ctx, ddl)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) EnsureOperator(ctx context.Context, op Operator) error {
	if op.FirstSeen.IsZero() {
		op.FirstSeen = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators(id, username, is_admin, first_seen) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET username = COALESCE(excluded.username, operators.username)`,
		op.ID, nullStr(op.Username), op.IsAdmin, op.FirstSeen.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetOperator(ctx context.Context, id int64) (Operator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, is_admin, first_seen FROM operators WHERE id = ?`, id)
	op, err := scanSQLiteOperator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	return op, err
}

func (s *sqliteStore) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, is_admin, first_seen FROM operators ORDER BY first_seen, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Operator
	for rows.Next() {
		op, err := scanSQLiteOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOperator(r rowScanner) (Operator, error) {
	var (
		op       Operator
		username sql.NullString
		seen     string
	)
	if err := r.Scan(&op.ID, &username, &op.IsAdmin, &seen); err != nil {
		return Operator{}, err
	}
	op.Username = username.String
	op.FirstSeen, _ = time.Parse(time.RFC3339Nano, seen)
	return op, nil
}

func (s *sqliteStore) IsOperatorAdmin(ctx context.Context, id int64) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT is_admin FROM operators WHERE id = ?`, id).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return admin, err
}

func (s *sqliteStore) SetAdmin(ctx context.Context, id int64, admin bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE operators SET is_admin = ? WHERE id = ?`, admin, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListAccounts(ctx context.Context, operatorID int64) ([]AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operator_id, app_id, app_secret, session_ref, phone, created_at
		 FROM accounts WHERE operator_id = ? ORDER BY seq`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountRecord
	for rows.Next() {
		var (
			rec     AccountRecord
			phone   sql.NullString
			created string
		)
		if err := rows.Scan(&rec.OperatorID, &rec.AppID, &rec.AppSecret, &rec.SessionRef, &phone, &created); err != nil {
			return nil, err
		}
		rec.Phone = phone.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddAccount(ctx context.Context, rec AccountRecord) error {
	if rec.SessionRef == "" {
		return errors.New("session ref is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(operator_id, app_id, app_secret, session_ref, phone, created_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(operator_id, session_ref) DO UPDATE SET
		   app_id = excluded.app_id, app_secret = excluded.app_secret,
		   phone = excluded.phone, created_at = excluded.created_at`,
		rec.OperatorID, rec.AppID, rec.AppSecret, rec.SessionRef, nullStr(rec.Phone), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteAccount(ctx context.Context, operatorID int64, sessionRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE operator_id = ? AND session_ref = ?`, operatorID, sessionRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, operator_id, action, target, ok, noop, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.OperatorID, e.Action, nullStr(e.Target),
		e.OK, e.Noop, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.Meta),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
