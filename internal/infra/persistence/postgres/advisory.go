package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"samplecore/internal/lock"
	"time"
)

// AdvisoryLocker implements lock.Locker with pg_advisory_xact_lock. The lock
// lives in its own transaction and is released when that transaction ends,
// after fn has returned.
type AdvisoryLocker struct {
	db   *sql.DB
	wait time.Duration
}

var _ lock.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker constructs a locker on db. A positive wait sets the
// session lock_timeout for the acquisition.
func NewAdvisoryLocker(db *sql.DB, wait time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, wait: wait}
}

// WithLock implements lock.Locker.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) (retErr error) {
	if lock.Held(ctx, key) {
		return fn(ctx)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin lock tx: %v", lock.ErrNotAcquired, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if l.wait > 0 {
		timeout := fmt.Sprintf("%dms", l.wait.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lock.ID(key)); err != nil {
		return fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, err)
	}
	if err := fn(lock.MarkHeld(ctx, key)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	return nil
}

// Locker returns an advisory locker sharing the store's connection pool.
func (s *Store) Locker(wait time.Duration) *AdvisoryLocker {
	return NewAdvisoryLocker(s.db, wait)
}
