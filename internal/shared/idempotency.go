package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists processed request keys together with the id of
// the record they produced.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyInFlight indicates the key is claimed but not yet completed.
var ErrIdempotencyInFlight = fmt.Errorf("%w: idempotent request still in progress", ErrConflict)

// Claim reserves key for module. When the key was already completed the
// stored reference id is returned with claimed=false.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string) (refID int64, claimed bool, err error) {
	if s == nil {
		return 0, false, errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return 0, false, errors.New("idempotency key and module required")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err == nil {
		return 0, true, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return 0, false, err
	}
	var ref *int64
	err = s.pool.QueryRow(ctx, `SELECT ref_id FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrIdempotencyInFlight
		}
		return 0, false, err
	}
	if ref == nil {
		return 0, false, ErrIdempotencyInFlight
	}
	return *ref, false, nil
}

// Complete stores the produced reference id for a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module string, refID int64) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET ref_id = $3 WHERE key = $1 AND module = $2`, key, module, refID)
	return err
}

// Release removes a claimed key, typically used to roll back failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
