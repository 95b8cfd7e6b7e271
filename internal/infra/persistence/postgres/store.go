// Package postgres keeps samplecore state in Postgres. Every transaction runs
// under a transaction-scoped advisory lock on the snapshot: buckets changed by
// other instances are reloaded, fn commits against the in-memory engine and
// the changed JSONB buckets are written in the same database transaction.
// The package also provides the advisory lock used to serialize writers per
// destination project.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"samplecore/internal/infra/persistence/memory"
	"samplecore/internal/lock"
	"samplecore/pkg/domain"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/samplecore?sslmode=disable"

	// SnapshotTable holds one row per bucket.
	SnapshotTable = "sample_snapshots"
)

// snapshotLockID serializes snapshot transactions across instances.
var snapshotLockID = lock.ID("samplecore:snapshot")

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store whose committed state is mirrored to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB

	mu      sync.Mutex
	digests memory.BucketDigests
}

// NewStore connects to dsn (defaultDSN when empty), creates the snapshot table
// if needed and loads any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+SnapshotTable+` (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		digest BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", SnapshotTable, err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

// RunInTransaction commits fn in memory and writes the changed buckets while
// holding the snapshot lock. If the write fails the in-memory commit is
// undone and the error returned.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("snapshot to postgres: begin: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, snapshotLockID); err != nil {
		return domain.Result{}, fmt.Errorf("snapshot to postgres: lock: %w", err)
	}
	if err := s.refresh(ctx, tx); err != nil {
		return domain.Result{}, fmt.Errorf("snapshot to postgres: %w", err)
	}
	before, digests := s.ExportState(), s.digests.Clone()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.write(ctx, tx); err != nil {
		s.ImportState(before)
		s.digests = digests
		return res, fmt.Errorf("snapshot to postgres: %w", err)
	}
	done = true
	return res, nil
}

// View reloads buckets changed by other instances and then reads the
// in-memory state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.Lock()
	err := s.refresh(ctx, s.db)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("refresh from postgres: %w", err)
	}
	return s.Store.View(ctx, fn)
}

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// refresh reloads the buckets whose stored digest differs from the one this
// store last read or wrote. Callers hold s.mu.
func (s *Store) refresh(ctx context.Context, q queryer) error {
	stale, err := s.staleBuckets(ctx, q)
	if err != nil || len(stale) == 0 {
		return err
	}
	payloads, err := readBuckets(ctx, q, stale)
	if err != nil {
		return err
	}
	snapshot := s.ExportState()
	if err := snapshot.ApplyBuckets(payloads); err != nil {
		return err
	}
	s.ImportState(snapshot)
	current, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	for bucket := range payloads {
		s.digests.Record(current, bucket)
	}
	return nil
}

func (s *Store) staleBuckets(ctx context.Context, q queryer) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT bucket, digest FROM `+SnapshotTable)
	if err != nil {
		return nil, fmt.Errorf("read %s digests: %w", SnapshotTable, err)
	}
	defer func() { _ = rows.Close() }()
	stale := make(map[string]bool)
	for rows.Next() {
		var (
			bucket string
			digest sql.NullInt64
		)
		if err := rows.Scan(&bucket, &digest); err != nil {
			return nil, fmt.Errorf("scan %s digests: %w", SnapshotTable, err)
		}
		if local, ok := s.digests.Digest(bucket); !ok || !digest.Valid || uint64(digest.Int64) != local {
			stale[bucket] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", SnapshotTable, err)
	}
	return stale, nil
}

func readBuckets(ctx context.Context, q queryer, want map[string]bool) (map[string][]byte, error) {
	rows, err := q.QueryContext(ctx, `SELECT bucket, payload FROM `+SnapshotTable)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SnapshotTable, err)
	}
	defer func() { _ = rows.Close() }()
	payloads := make(map[string][]byte, len(want))
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", SnapshotTable, err)
		}
		if want[bucket] {
			payloads[bucket] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", SnapshotTable, err)
	}
	return payloads, nil
}

// write upserts changed buckets and commits. With nothing changed the
// transaction is rolled back, releasing the snapshot lock.
func (s *Store) write(ctx context.Context, tx *sql.Tx) error {
	payloads, err := s.ExportState().EncodeBuckets()
	if err != nil {
		return err
	}
	changed := s.digests.Changed(payloads)
	if len(changed) == 0 {
		return tx.Rollback()
	}
	for _, bucket := range changed {
		s.digests.Record(payloads, bucket)
		sum, _ := s.digests.Digest(bucket)
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+SnapshotTable+` (bucket, payload, digest) VALUES ($1, $2, $3)
			ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, digest = EXCLUDED.digest, updated_at = now()`,
			bucket, payloads[bucket], int64(sum)); err != nil {
			return fmt.Errorf("write bucket %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// OverrideSQLOpen replaces the connection opener, returning a restore func.
// Tests use it to inject a stub driver.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
