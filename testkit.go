package dbsession

import (
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/go-dbsession/dbsession/driver"
)

// TestDriver is an in-memory driver.Driver for unit tests. Open hands out a
// single TestPool whose connections record every statement — transaction
// verbs included — in execution order, so tests can assert the exact wire
// conversation a piece of code produces without a database.
type TestDriver struct {
	// DialectName defaults to "test".
	DialectName string

	// Numbered switches placeholders from ? to $1, $2, ...
	Numbered bool

	// OpenErr, when set, fails Open.
	OpenErr error

	// Pool is returned by Open; it is created lazily when nil.
	Pool *TestPool

	mu       sync.Mutex
	opens    int
	lastDSN  string
	lastOpts driver.PoolOptions
}

var _ driver.Driver = (*TestDriver)(nil)

func (d *TestDriver) Dialect() driver.Dialect {
	name := d.DialectName
	if name == "" {
		name = "test"
	}
	return testDialect{name: name, numbered: d.Numbered}
}

func (d *TestDriver) Open(_ context.Context, dsn string, opts driver.PoolOptions) (driver.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.lastDSN = dsn
	d.lastOpts = opts
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Pool == nil {
		d.Pool = NewTestPool()
	}
	return d.Pool, nil
}

// Opens reports how many times Open was called.
func (d *TestDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// LastDSN returns the dsn passed to the most recent Open.
func (d *TestDriver) LastDSN() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDSN
}

// LastOptions returns the options passed to the most recent Open.
func (d *TestDriver) LastOptions() driver.PoolOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOpts
}

type testDialect struct {
	name     string
	numbered bool
}

var _ driver.Dialect = testDialect{}

func (d testDialect) Name() string { return d.name }

func (d testDialect) Placeholder(i int) string {
	if d.numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// TestPool is an in-memory driver.Pool. Every Acquire hands out the same
// TestConn, which matches how a session pins one connection.
type TestPool struct {
	// Conn is handed out by Acquire.
	Conn *TestConn

	// AcquireFunc overrides Acquire when set.
	AcquireFunc func(ctx context.Context) (driver.Conn, error)

	// AcquireErr, ReleaseErr, PingErr and CloseErr fail the corresponding
	// method when set.
	AcquireErr error
	ReleaseErr error
	PingErr    error
	CloseErr   error

	mu       sync.Mutex
	acquires int
	releases int
	closed   bool
}

var _ driver.Pool = (*TestPool)(nil)

// NewTestPool builds a TestPool around a fresh TestConn.
func NewTestPool() *TestPool {
	return &TestPool{Conn: NewTestConn()}
}

func (p *TestPool) Acquire(ctx context.Context) (driver.Conn, error) {
	if p.AcquireFunc != nil {
		conn, err := p.AcquireFunc(ctx)
		if err == nil {
			p.mu.Lock()
			p.acquires++
			p.mu.Unlock()
		}
		return conn, err
	}
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	p.mu.Lock()
	p.acquires++
	p.mu.Unlock()
	return p.Conn, nil
}

func (p *TestPool) Release(driver.Conn) error {
	p.mu.Lock()
	p.releases++
	p.mu.Unlock()
	return p.ReleaseErr
}

func (p *TestPool) Ping(context.Context) error { return p.PingErr }

func (p *TestPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.CloseErr
}

// Acquires reports successful Acquire calls.
func (p *TestPool) Acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}

// Releases reports Release calls.
func (p *TestPool) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// Closed reports whether Close was called.
func (p *TestPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// TestCall is one executed statement with its args.
type TestCall struct {
	SQL  string
	Args []any
}

// TestConn is an in-memory driver.Conn. Statements execute against scripted
// results: Script attaches rows to a statement text, ScriptErr attaches a
// failure. Unscripted statements succeed with no rows, so writes don't need
// scripting. Every executed statement is recorded, BEGIN/COMMIT/ROLLBACK
// included.
type TestConn struct {
	// BeginErr, CommitErr and RollbackErr fail the corresponding verb when
	// set. The attempt is still recorded.
	BeginErr    error
	CommitErr   error
	RollbackErr error

	// CursorCloseErr fails every cursor Close when set.
	CursorCloseErr error

	mu      sync.Mutex
	calls   []TestCall
	results map[string][][]any
	errs    map[string]error
}

var _ driver.Conn = (*TestConn)(nil)

// NewTestConn builds an empty TestConn.
func NewTestConn() *TestConn {
	return &TestConn{
		results: make(map[string][][]any),
		errs:    make(map[string]error),
	}
}

// Script attaches result rows to a statement text.
func (c *TestConn) Script(sql string, rows [][]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[sql] = rows
}

// ScriptErr makes executing sql fail with err.
func (c *TestConn) ScriptErr(sql string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[sql] = err
}

// Statements returns the SQL of every executed statement in order.
func (c *TestConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.SQL
	}
	return out
}

// Calls returns every executed statement with its args, in order.
func (c *TestConn) Calls() []TestCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestCall, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *TestConn) Cursor() driver.Cursor { return &TestCursor{conn: c} }

func (c *TestConn) Begin(context.Context) error {
	c.record("BEGIN", nil)
	return c.BeginErr
}

func (c *TestConn) Commit(context.Context) error {
	c.record("COMMIT", nil)
	return c.CommitErr
}

func (c *TestConn) Rollback(context.Context) error {
	c.record("ROLLBACK", nil)
	return c.RollbackErr
}

func (c *TestConn) record(sql string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, TestCall{SQL: sql, Args: args})
}

func (c *TestConn) execute(sql string, args []any) ([][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, TestCall{SQL: sql, Args: args})
	if err := c.errs[sql]; err != nil {
		return nil, err
	}
	return c.results[sql], nil
}

// TestCursor is the cursor side of TestConn.
type TestCursor struct {
	conn   *TestConn
	rows   [][]any
	idx    int
	closed bool
}

var _ driver.Cursor = (*TestCursor)(nil)

func (c *TestCursor) Execute(_ context.Context, sql string, args []any) error {
	rows, err := c.conn.execute(sql, args)
	if err != nil {
		return err
	}
	c.rows = rows
	c.idx = 0
	return nil
}

func (c *TestCursor) FetchOne() ([]any, error) {
	if c.idx >= len(c.rows) {
		return nil, io.EOF
	}
	row := c.rows[c.idx]
	c.idx++
	return row, nil
}

func (c *TestCursor) FetchAll() ([][]any, error) {
	rest := c.rows[c.idx:]
	c.idx = len(c.rows)
	return rest, nil
}

func (c *TestCursor) Close() error {
	c.closed = true
	c.rows = nil
	return c.conn.CursorCloseErr
}

// RowsBuilder builds result rows for TestConn.Script.
type RowsBuilder struct {
	columns []string
	rows    [][]any
}

// NewRows creates a RowsBuilder for the named columns.
func NewRows(columns ...string) *RowsBuilder {
	return &RowsBuilder{columns: columns}
}

// AddRow appends a row. It panics on arity mismatch.
func (b *RowsBuilder) AddRow(values ...any) *RowsBuilder {
	if len(values) != len(b.columns) {
		panic("dbsession.RowsBuilder: column count mismatch")
	}
	b.rows = append(b.rows, values)
	return b
}

// Build returns the accumulated rows.
func (b *RowsBuilder) Build() [][]any {
	return b.rows
}
