// Package sqlite keeps samplecore state in a single SQLite file. Transactions
// run against the in-memory engine inside an immediate SQLite transaction:
// buckets written by other processes are reloaded first and the buckets the
// commit changed are written back before the write lock is released.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"samplecore/internal/infra/persistence/memory"
	"samplecore/pkg/domain"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "samplecore.db"

// SnapshotTable holds one row per bucket.
const SnapshotTable = "sample_snapshots"

// Applied to every pooled connection. _txlock=immediate makes BEGIN take the
// database write lock, so snapshot transactions from separate processes run
// one at a time.
var dsnParams = url.Values{
	"_pragma": {"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"},
	"_txlock": {"immediate"},
}

// Store is a memory.Store whose committed state is mirrored to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	mu      sync.Mutex
	digests memory.BucketDigests
}

// NewStore opens or creates the database at path and loads its snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+dsnParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+SnapshotTable+` (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		digest INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create %s: %w", SnapshotTable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx, s.db)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// refresh reloads every bucket whose stored digest differs from the one this
// store last read or wrote. Callers hold s.mu.
func (s *Store) refresh(ctx context.Context, q queryer) error {
	stale, err := s.staleBuckets(ctx, q)
	if err != nil || len(stale) == 0 {
		return err
	}
	rows, err := q.QueryContext(ctx, `SELECT bucket, payload FROM `+SnapshotTable)
	if err != nil {
		return fmt.Errorf("read %s: %w", SnapshotTable, err)
	}
	defer func() { _ = rows.Close() }()
	payloads := make(map[string][]byte, len(stale))
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", SnapshotTable, err)
		}
		if stale[bucket] {
			payloads[bucket] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", SnapshotTable, err)
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
		local, ok := s.digests.Digest(bucket)
		if !ok || !digest.Valid || uint64(digest.Int64) != local {
			stale[bucket] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s digests: %w", SnapshotTable, err)
	}
	return stale, nil
}

// RunInTransaction holds the SQLite write lock while it reloads foreign
// changes, commits fn in memory and writes the changed buckets. If the write
// fails the in-memory commit is undone and the error returned.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("snapshot to sqlite: begin: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()
	if err := s.refresh(ctx, tx); err != nil {
		return domain.Result{}, fmt.Errorf("snapshot to sqlite: %w", err)
	}
	before, digests := s.ExportState(), s.digests.Clone()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.write(ctx, tx); err != nil {
		s.ImportState(before)
		s.digests = digests
		return res, fmt.Errorf("snapshot to sqlite: %w", err)
	}
	done = true
	return res, nil
}

// write upserts changed buckets and commits. With nothing changed the
// transaction is rolled back.
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+SnapshotTable+` (bucket, payload, digest) VALUES (?, ?, ?)
			ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload, digest = excluded.digest, updated_at = CURRENT_TIMESTAMP`,
			bucket, payloads[bucket], int64(sum)); err != nil {
			return fmt.Errorf("write bucket %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View reloads buckets changed by other processes and then reads the
// in-memory state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.Lock()
	err := s.refresh(ctx, s.db)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("refresh from sqlite: %w", err)
	}
	return s.Store.View(ctx, fn)
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }
