package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PostgreSQL error codes treated as retryable contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeCheckViolation       = "23514"
)

// Check constraints that guard on-hand quantity. Other check violations are
// input errors.
var stockConstraints = map[string]bool{
	"products_quantity_check":                true,
	"stock_adjustments_quantity_after_check": true,
}

// TxOptions tunes the transaction runner.
type TxOptions struct {
	// LockTimeout bounds how long a statement waits for a row lock.
	LockTimeout time.Duration
	// MaxAttempts is the number of tries for retryable failures.
	MaxAttempts int
	// Backoff is the base delay between attempts, doubled on each retry.
	Backoff time.Duration
}

// DefaultTxOptions mirrors the STOCK_* configuration defaults.
var DefaultTxOptions = TxOptions{LockTimeout: 5 * time.Second, MaxAttempts: 3, Backoff: 20 * time.Millisecond}

// Runner opens RepeatableRead transactions with a lock timeout and retries
// contention failures before surfacing shared.ErrConflict.
type Runner struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewRunner constructs Runner.
func NewRunner(pool *pgxpool.Pool, opts TxOptions) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Runner{pool: pool, opts: opts}
}

// WithTx executes fn within a transaction. fn may run more than once.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return retry(ctx, r.opts, func() error {
		return WithTx(ctx, r.pool, r.opts.LockTimeout, fn)
	})
}

// retry calls attempt until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func retry(ctx context.Context, opts TxOptions, attempt func() error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	var err error
	delay := opts.Backoff
	for n := 1; n <= opts.MaxAttempts; n++ {
		err = attempt()
		if err == nil || !IsRetryable(err) {
			return Classify(err)
		}
		if n == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", shared.ErrConflict, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", shared.ErrConflict, opts.MaxAttempts, err)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, lockTimeout time.Duration, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports whether err is a contention failure worth retrying.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// Classify folds raw driver errors into the shared taxonomy. Domain errors
// pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if shared.KindOf(err) != shared.KindUnknown {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
		case codeCheckViolation:
			if stockConstraints[pgErr.ConstraintName] {
				return fmt.Errorf("%w: %s", shared.ErrInsufficientStock, pgErr.ConstraintName)
			}
			return fmt.Errorf("%w: %s", shared.ErrValidation, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrStore, err)
}
