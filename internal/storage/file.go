package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	logx "tgfleet/pkg/logx"
)

// fileStore keeps the whole dataset in memory and rewrites it on every
// mutation (tmp file + rename, so a crash never leaves a torn document).
//
// Files:
//   - <path>                     (JSON document: operators + accounts)
//   - <prefix>.audit.jsonl       (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	path      string
	auditFile *os.File
	doc       fileDoc
}

type fileDoc struct {
	Operators map[int64]*Operator `json:"operators"`
	Accounts  []AccountRecord     `json:"accounts"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/tgfleet.json"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	auditPath := filepath.Join(dir, base+".audit.jsonl")

	doc := fileDoc{Operators: map[int64]*Operator{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if doc.Operators == nil {
			doc.Operators = map[int64]*Operator{}
		}
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", path), logx.Int("accounts", len(doc.Accounts)))
	return &fileStore{log: log, path: path, auditFile: af, doc: doc}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

// saveLocked persists doc. Callers hold mu.
func (s *fileStore) saveLocked() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tgfleet-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *fileStore) EnsureOperator(_ context.Context, op Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.doc.Operators[op.ID]; ok {
		if op.Username == "" || cur.Username == op.Username {
			return nil
		}
		cur.Username = op.Username
		return s.saveLocked()
	}
	if op.FirstSeen.IsZero() {
		op.FirstSeen = time.Now().UTC()
	}
	s.doc.Operators[op.ID] = &op
	return s.saveLocked()
}

func (s *fileStore) GetOperator(_ context.Context, id int64) (Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.doc.Operators[id]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return *op, nil
}

func (s *fileStore) ListOperators(_ context.Context) ([]Operator, error) {
	s.mu.Lock()
	out := make([]Operator, 0, len(s.doc.Operators))
	for _, op := range s.doc.Operators {
		out = append(out, *op)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) IsOperatorAdmin(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.doc.Operators[id]
	return ok && op.IsAdmin, nil
}

func (s *fileStore) SetAdmin(_ context.Context, id int64, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.doc.Operators[id]
	if !ok {
		return ErrNotFound
	}
	if op.IsAdmin == admin {
		return nil
	}
	op.IsAdmin = admin
	return s.saveLocked()
}

func (s *fileStore) ListAccounts(_ context.Context, operatorID int64) ([]AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AccountRecord
	for _, rec := range s.doc.Accounts {
		if rec.OperatorID == operatorID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fileStore) AddAccount(_ context.Context, rec AccountRecord) error {
	if rec.SessionRef == "" {
		return errors.New("session ref is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.doc.Accounts, func(a AccountRecord) bool {
		return a.OperatorID == rec.OperatorID && a.SessionRef == rec.SessionRef
	})
	if i >= 0 {
		s.doc.Accounts[i] = rec
	} else {
		s.doc.Accounts = append(s.doc.Accounts, rec)
	}
	return s.saveLocked()
}

func (s *fileStore) DeleteAccount(_ context.Context, operatorID int64, sessionRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.doc.Accounts)
	s.doc.Accounts = slices.DeleteFunc(s.doc.Accounts, func(a AccountRecord) bool {
		return a.OperatorID == operatorID && a.SessionRef == sessionRef
	})
	if len(s.doc.Accounts) == n {
		return false, nil
	}
	return true, s.saveLocked()
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
