package storage

import (
	"context"
	"fmt"

	"tgfleet/internal/secrets"
)

// sealedStore seals AccountRecord.AppSecret on the way in and opens it on
// the way out. Everything else passes through.
type sealedStore struct {
	Store
	box *secrets.Box
}

// Sealed wraps st so app secrets are age-encrypted at rest.
func Sealed(st Store, box *secrets.Box) Store {
	return &sealedStore{Store: st, box: box}
}

func (s *sealedStore) AddAccount(ctx context.Context, rec AccountRecord) error {
	if !secrets.IsSealed(rec.AppSecret) {
		sealed, err := s.box.Seal(rec.AppSecret)
		if err != nil {
			return fmt.Errorf("seal app secret: %w", err)
		}
		rec.AppSecret = sealed
	}
	return s.Store.AddAccount(ctx, rec)
}

func (s *sealedStore) ListAccounts(ctx context.Context, operatorID int64) ([]AccountRecord, error) {
	recs, err := s.Store.ListAccounts(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		plain, err := s.box.Open(recs[i].AppSecret)
		if err != nil {
			return nil, fmt.Errorf("open app secret for %s: %w", recs[i].SessionRef, err)
		}
		recs[i].AppSecret = plain
	}
	return recs, nil
}
