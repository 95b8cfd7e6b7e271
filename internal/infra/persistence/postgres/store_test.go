package postgres

import (
	"context"
	"database/sql"
	"errors"
	"samplecore/internal/infra/persistence/postgres/testutil"
	"samplecore/internal/lock"
	"samplecore/pkg/domain"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func seed(t *testing.T, store *Store) domain.Project {
	t.Helper()
	var project domain.Project
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		group, err := tx.CreateNamespace(domain.Namespace{Name: "lab", Kind: domain.NamespaceGroup})
		if err != nil {
			return err
		}
		ns, err := tx.CreateNamespace(domain.Namespace{Name: "alpha", Kind: domain.NamespaceProject, ParentID: strPtr(group.ID)})
		if err != nil {
			return err
		}
		project, err = tx.CreateProject(domain.Project{NamespaceID: ns.ID})
		if err != nil {
			return err
		}
		_, err = tx.CreateSample(domain.Sample{Name: "S1", ProjectID: project.ID})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return project
}

func TestNewStoreCreatesSnapshotTable(t *testing.T) {
	_, conn := openStub(t)
	stmts := conn.Statements()
	if len(stmts) == 0 || !strings.Contains(stmts[0], "CREATE TABLE IF NOT EXISTS "+SnapshotTable) {
		t.Fatalf("expected snapshot DDL first, got %v", stmts)
	}
}

func TestStorePersistsAndReloads(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "postgres://example", nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	project := seed(t, store)
	if conn.Commits != 1 {
		t.Fatalf("expected one snapshot commit, got %d", conn.Commits)
	}
	if got := len(conn.Tables[SnapshotTable]); got != 6 {
		t.Fatalf("expected 6 bucket rows, got %d", got)
	}

	reloaded, err := NewStore(context.Background(), "postgres://example", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	_ = reloaded.View(context.Background(), func(v domain.TransactionView) error {
		if got := v.ListProjectSamples(project.ID); len(got) != 1 || got[0].Name != "S1" {
			t.Fatalf("expected reloaded sample, got %+v", got)
		}
		return nil
	})
}

func TestStoreWritesOnlyChangedBuckets(t *testing.T) {
	store, conn := openStub(t)
	project := seed(t, store)
	writes := func() int {
		n := 0
		for _, stmt := range conn.Statements() {
			if strings.Contains(stmt, "INSERT INTO "+SnapshotTable) {
				n++
			}
		}
		return n
	}
	initial := writes()
	if initial != 6 {
		t.Fatalf("expected every bucket written on first commit, got %d", initial)
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateSample(domain.Sample{Name: "S2", ProjectID: project.ID})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := writes() - initial; got != 1 {
		t.Fatalf("expected one bucket rewrite, got %d", got)
	}
	commits := conn.Commits
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("noop tx: %v", err)
	}
	if conn.Commits != commits {
		t.Fatalf("expected no snapshot transaction for an unchanged state")
	}
}

func TestReloadedStoreDoesNotRewriteLoadedBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	first, err := NewStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	seed(t, first)
	commits := conn.Commits

	second, err := NewStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := second.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("noop tx: %v", err)
	}
	if conn.Commits != commits {
		t.Fatalf("expected reload to recognise persisted buckets")
	}
}

func TestInstancesSharingOneDatabaseSeeEachOthersCommits(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	ctx := context.Background()
	first, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	project := seed(t, first)

	if _, err := second.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if len(tx.Snapshot().FindLiveSamplesByName(project.ID, []string{"S1"})) != 1 {
			return errors.New("second instance did not load the first commit")
		}
		_, err := tx.CreateSample(domain.Sample{Name: "S2", ProjectID: project.ID})
		return err
	}); err != nil {
		t.Fatalf("second tx: %v", err)
	}
	var locked int
	for i, stmt := range conn.Statements() {
		if strings.Contains(stmt, "pg_advisory_xact_lock") && conn.ExecArgs[i][0] == snapshotLockID {
			locked++
		}
	}
	if locked != 2 {
		t.Fatalf("expected both snapshot transactions under the snapshot lock, got %d", locked)
	}
	_ = first.View(ctx, func(v domain.TransactionView) error {
		if got := v.ListProjectSamples(project.ID); len(got) != 2 {
			t.Fatalf("first instance must see the second commit, got %+v", got)
		}
		return nil
	})

	reloaded, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	_ = reloaded.View(ctx, func(v domain.TransactionView) error {
		if got := v.ListProjectSamples(project.ID); len(got) != 2 {
			t.Fatalf("expected both commits persisted, got %+v", got)
		}
		return nil
	})
}

func TestFailedSnapshotWriteUndoesMemoryCommit(t *testing.T) {
	store, conn := openStub(t)
	project := seed(t, store)
	conn.FailStatements = []string{"INSERT INTO " + SnapshotTable}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateSample(domain.Sample{Name: "lost", ProjectID: project.ID})
		return err
	}); err == nil {
		t.Fatalf("expected write failure")
	}
	conn.FailStatements = nil
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		if got := v.ListProjectSamples(project.ID); len(got) != 1 {
			t.Fatalf("failed commit must not stay in memory, got %+v", got)
		}
		return nil
	})
}

func TestStoreSkipsPersistOnTransactionError(t *testing.T) {
	store, conn := openStub(t)
	sentinel := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if conn.Commits != 0 || len(conn.Tables[SnapshotTable]) != 0 {
		t.Fatalf("expected no persistence, commits=%d rows=%d", conn.Commits, len(conn.Tables[SnapshotTable]))
	}
}

func TestStorePersistFailures(t *testing.T) {
	store, conn := openStub(t)
	conn.FailStatements = []string{"INSERT INTO " + SnapshotTable}
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil || !strings.Contains(err.Error(), "write bucket") {
		t.Fatalf("expected bucket write error, got %v", err)
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected rollback after failed upsert")
	}
	conn.FailStatements = nil
	conn.FailCommit = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	conn.FailCommit = false
	conn.FailBegin = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil || !strings.Contains(err.Error(), "begin") {
		t.Fatalf("expected begin error, got %v", err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
	restore()

	db, conn = testutil.NewStubDB()
	conn.RowsErr = errors.New("rows")
	conn.Tables[SnapshotTable] = []map[string]any{{"bucket": "samples", "payload": []byte(`[]`)}}
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "iterate "+SnapshotTable) {
		t.Fatalf("expected iterate error, got %v", err)
	}
}

func TestNewStoreRejectsCorruptSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Tables[SnapshotTable] = []map[string]any{{"bucket": "samples", "payload": []byte(`{not json`)}}
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "", nil); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAdvisoryLockerWrapsCallbackInLockTransaction(t *testing.T) {
	store, conn := openStub(t)
	locker := store.Locker(250 * time.Millisecond)
	key := lock.DestinationKey("SC_PRJ_X")
	calls := 0
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		calls++
		if !lock.Held(ctx, key) {
			t.Fatalf("expected key to be marked held")
		}
		return locker.WithLock(ctx, key, func(context.Context) error {
			calls++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reentrant call, got %d", calls)
	}
	var sawTimeout, sawLock bool
	for i, stmt := range conn.Statements() {
		if strings.Contains(stmt, "lock_timeout") {
			sawTimeout = conn.ExecArgs[i][0] == "250ms"
		}
		if strings.Contains(stmt, "pg_advisory_xact_lock") {
			sawLock = conn.ExecArgs[i][0] == lock.ID(key)
		}
	}
	if !sawTimeout || !sawLock {
		t.Fatalf("expected timeout and advisory statements, got %v", conn.Statements())
	}
	if conn.Commits != 1 {
		t.Fatalf("expected lock tx commit, got %d", conn.Commits)
	}
}

func TestAdvisoryLockerFailures(t *testing.T) {
	store, conn := openStub(t)
	locker := NewAdvisoryLocker(store.DB(), 0)
	conn.FailStatements = []string{"pg_advisory_xact_lock"}
	err := locker.WithLock(context.Background(), "k", func(context.Context) error {
		t.Fatalf("callback must not run without the lock")
		return nil
	})
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	conn.FailStatements = nil

	sentinel := errors.New("fn")
	before := conn.Rollbacks
	if err := locker.WithLock(context.Background(), "k", func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if conn.Rollbacks != before+1 {
		t.Fatalf("expected rollback releasing the lock")
	}
	for _, stmt := range conn.Statements() {
		if strings.Contains(stmt, "lock_timeout") {
			t.Fatalf("zero wait must not set lock_timeout")
		}
	}

	conn.FailBegin = true
	if err := locker.WithLock(context.Background(), "k", func(context.Context) error { return nil }); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired on begin failure, got %v", err)
	}
}
