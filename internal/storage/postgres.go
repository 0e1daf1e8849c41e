package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "tgfleet/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	ddl, err := migration("postgres")
	if err == nil {
		_, err = pool.Exec(ctx, ddl)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) EnsureOperator(ctx context.Context, op Operator) error {
	if op.FirstSeen.IsZero() {
		op.FirstSeen = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operators(id, username, is_admin, first_seen) VALUES($1,$2,$3,$4)
		 ON CONFLICT(id) DO UPDATE SET username = COALESCE(EXCLUDED.username, operators.username)`,
		op.ID, nullStr(op.Username), op.IsAdmin, op.FirstSeen,
	)
	return err
}

func (s *postgresStore) GetOperator(ctx context.Context, id int64) (Operator, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, COALESCE(username, ''), is_admin, first_seen FROM operators WHERE id = $1`, id)
	var op Operator
	err := row.Scan(&op.ID, &op.Username, &op.IsAdmin, &op.FirstSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	return op, err
}

func (s *postgresStore) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, COALESCE(username, ''), is_admin, first_seen FROM operators ORDER BY first_seen, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Operator, error) {
		var op Operator
		err := r.Scan(&op.ID, &op.Username, &op.IsAdmin, &op.FirstSeen)
		return op, err
	})
}

func (s *postgresStore) IsOperatorAdmin(ctx context.Context, id int64) (bool, error) {
	var admin bool
	err := s.pool.QueryRow(ctx, `SELECT is_admin FROM operators WHERE id = $1`, id).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return admin, err
}

func (s *postgresStore) SetAdmin(ctx context.Context, id int64, admin bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE operators SET is_admin = $1 WHERE id = $2`, admin, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ListAccounts(ctx context.Context, operatorID int64) ([]AccountRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT operator_id, app_id, app_secret, session_ref, COALESCE(phone, ''), created_at
		 FROM accounts WHERE operator_id = $1 ORDER BY seq`, operatorID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (AccountRecord, error) {
		var rec AccountRecord
		err := r.Scan(&rec.OperatorID, &rec.AppID, &rec.AppSecret, &rec.SessionRef, &rec.Phone, &rec.CreatedAt)
		return rec, err
	})
}

func (s *postgresStore) AddAccount(ctx context.Context, rec AccountRecord) error {
	if rec.SessionRef == "" {
		return errors.New("session ref is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts(operator_id, app_id, app_secret, session_ref, phone, created_at) VALUES($1,$2,$3,$4,$5,$6)
		 ON CONFLICT(operator_id, session_ref) DO UPDATE SET
		   app_id = EXCLUDED.app_id, app_secret = EXCLUDED.app_secret,
		   phone = EXCLUDED.phone, created_at = EXCLUDED.created_at`,
		rec.OperatorID, rec.AppID, rec.AppSecret, rec.SessionRef, nullStr(rec.Phone), rec.CreatedAt,
	)
	return err
}

func (s *postgresStore) DeleteAccount(ctx context.Context, operatorID int64, sessionRef string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE operator_id = $1 AND session_ref = $2`, operatorID, sessionRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, operator_id, action, target, ok, noop, fail, err, took_ms, meta)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.At, e.OperatorID, e.Action, nullStr(e.Target), e.OK, e.Noop, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.Meta),
	)
	return err
}
