// Package testutil provides an in-process database/sql driver that stands in
// for postgres in snapshot store and advisory lock tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

var (
	insertRE = regexp.MustCompile(`(?is)^\s*insert\s+into\s+(\w+)\s*\(([^)]*)\)`)
	selectRE = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+(\w+)`)
)

// StubConn is a single shared connection. Every exec is recorded; INSERT
// statements land in Tables and SELECT statements read from them. Upserts
// (ON CONFLICT) replace the row whose first column matches.
type StubConn struct {
	mu sync.Mutex

	Execs     []string
	ExecArgs  [][]any
	Tables    map[string][]map[string]any
	Commits   int
	Rollbacks int

	FailExec   bool
	FailBegin  bool
	FailCommit bool
	// FailStatements fails execs containing any of these substrings.
	FailStatements []string
	// RowsErr is returned once query rows are exhausted.
	RowsErr error
}

// NewStubDB registers a fresh driver and opens a *sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: map[string][]map[string]any{}}
	name := fmt.Sprintf("samplecore-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Statements copies the recorded exec statements.
func (c *StubConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.Execs)
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepared statements unsupported")
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	return stubTx{c}, nil
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("stub: ping failed")
	}
	return nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, named []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	args := make([]any, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	c.Execs = append(c.Execs, query)
	c.ExecArgs = append(c.ExecArgs, args)
	if err := c.injectedFailure(query); err != nil {
		return nil, err
	}
	m := insertRE.FindStringSubmatch(query)
	if m == nil {
		return driver.RowsAffected(0), nil
	}
	table, cols := strings.ToLower(m[1]), columns(m[2])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("stub: column/arg mismatch for %s: %d columns, %d args", table, len(cols), len(args))
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i]
	}
	rows := c.Tables[table]
	if strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
		key := fmt.Sprint(row[cols[0]])
		rows = slices.DeleteFunc(rows, func(r map[string]any) bool { return fmt.Sprint(r[cols[0]]) == key })
	}
	c.Tables[table] = append(rows, row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) injectedFailure(query string) error {
	if c.FailExec {
		return errors.New("stub: exec failed")
	}
	for _, frag := range c.FailStatements {
		if strings.Contains(query, frag) {
			return fmt.Errorf("stub: exec failed on %q", frag)
		}
	}
	return nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := selectRE.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	cols, table := columns(m[1]), strings.ToLower(m[2])
	out := &stubRows{cols: cols, err: c.RowsErr}
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

func columns(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return parts
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	t.conn.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }

func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}
