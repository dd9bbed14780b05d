package dbsession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-dbsession/dbsession/driver"
)

const defaultRollbackTimeout = 5 * time.Second

// SessionOption configures Database.Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	rollbackIsolation bool
}

// WithRollbackIsolation starts an internal transaction when the session
// opens and rolls it back when the session closes, discarding every write
// the session made. Intended for tests that need a clean database per case.
func WithRollbackIsolation() SessionOption {
	return func(o *sessionOptions) {
		o.rollbackIsolation = true
	}
}

// Session multiplexes logical operations over a single pooled connection.
//
// The connection is leased by reference count: the first holder checks a
// connection out of the pool, later holders share it, and the last release
// returns it. Every operation (FetchAll, Execute, a started Transaction)
// holds a lease for its duration, which is what guarantees that statements
// inside a transaction run on the connection that opened it.
//
// A Session is not safe for concurrent use. Callers issue operations in
// program order; the refcount is bookkeeping for nesting, not for
// parallelism.
type Session struct {
	pool    driver.Pool
	dialect driver.Dialect
	logger  *slog.Logger

	leaseCount int
	conn       driver.Conn
	hasRootTx  bool
	isolation  *Transaction
	closed     bool
}

// AcquireConnection takes a lease on the session's connection, checking one
// out of the pool for the first holder. Pool errors propagate unchanged and
// leave the count as it was. Every successful call must be paired with
// ReleaseConnection.
func (s *Session) AcquireConnection(ctx context.Context) (driver.Conn, error) {
	if s.conn == nil {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	s.leaseCount++
	return s.conn, nil
}

// ReleaseConnection drops one lease. The last release returns the connection
// to the pool; the pool's error, if any, is returned. Releasing more times
// than acquired is a bug in the caller and panics.
func (s *Session) ReleaseConnection() error {
	if s.leaseCount <= 0 {
		panic("dbsession: connection released more times than acquired")
	}
	s.leaseCount--
	if s.leaseCount == 0 {
		conn := s.conn
		s.conn = nil
		return s.pool.Release(conn)
	}
	return nil
}

// FetchAll runs the query and returns all result rows.
func (s *Session) FetchAll(ctx context.Context, q Query) (records []Record, err error) {
	stmt, err := s.compile(q)
	if err != nil {
		return nil, err
	}

	conn, err := s.AcquireConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = joinCleanup(err, s.ReleaseConnection()) }()

	cur := conn.Cursor()
	defer func() { err = joinCleanup(err, cur.Close()) }()

	if err := cur.Execute(ctx, stmt.SQL, stmt.Args); err != nil {
		return nil, &StatementError{SQL: stmt.SQL, cause: err}
	}
	rows, err := cur.FetchAll()
	if err != nil {
		return nil, &StatementError{SQL: stmt.SQL, cause: err}
	}

	records = make([]Record, len(rows))
	for i, row := range rows {
		records[i] = newRecord(row, stmt.Columns)
	}
	return records, nil
}

// FetchOne runs the query and returns the first result row. It returns
// ErrNoRows when the statement produced none.
func (s *Session) FetchOne(ctx context.Context, q Query) (record Record, err error) {
	stmt, err := s.compile(q)
	if err != nil {
		return Record{}, err
	}

	conn, err := s.AcquireConnection(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { err = joinCleanup(err, s.ReleaseConnection()) }()

	cur := conn.Cursor()
	defer func() { err = joinCleanup(err, cur.Close()) }()

	if err := cur.Execute(ctx, stmt.SQL, stmt.Args); err != nil {
		return Record{}, &StatementError{SQL: stmt.SQL, cause: err}
	}
	row, err := cur.FetchOne()
	if errors.Is(err, io.EOF) {
		return Record{}, ErrNoRows
	}
	if err != nil {
		return Record{}, &StatementError{SQL: stmt.SQL, cause: err}
	}
	return newRecord(row, stmt.Columns), nil
}

// Execute runs a statement that returns no rows.
func (s *Session) Execute(ctx context.Context, q Query) (err error) {
	stmt, err := s.compile(q)
	if err != nil {
		return err
	}

	conn, err := s.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.ReleaseConnection()) }()

	cur := conn.Cursor()
	defer func() { err = joinCleanup(err, cur.Close()) }()

	if err := cur.Execute(ctx, stmt.SQL, stmt.Args); err != nil {
		return &StatementError{SQL: stmt.SQL, cause: err}
	}
	return nil
}

// ExecuteMany compiles and runs the query once per value set, sharing one
// connection lease and one cursor across the whole batch. An empty sets
// slice still acquires and releases the lease exactly once and executes
// nothing.
func (s *Session) ExecuteMany(ctx context.Context, q Bindable, sets []Values) (err error) {
	conn, err := s.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.ReleaseConnection()) }()

	cur := conn.Cursor()
	defer func() { err = joinCleanup(err, cur.Close()) }()

	for _, vals := range sets {
		stmt, err := s.compile(q.Bind(vals))
		if err != nil {
			return err
		}
		if err := cur.Execute(ctx, stmt.SQL, stmt.Args); err != nil {
			return &StatementError{SQL: stmt.SQL, cause: err}
		}
	}
	return nil
}

// Iterate runs the query and calls fn for each row in order. An error from
// fn stops the iteration and is returned unwrapped.
func (s *Session) Iterate(ctx context.Context, q Query, fn func(Record) error) (err error) {
	stmt, err := s.compile(q)
	if err != nil {
		return err
	}

	conn, err := s.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.ReleaseConnection()) }()

	cur := conn.Cursor()
	defer func() { err = joinCleanup(err, cur.Close()) }()

	if err := cur.Execute(ctx, stmt.SQL, stmt.Args); err != nil {
		return &StatementError{SQL: stmt.SQL, cause: err}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cur.FetchOne()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &StatementError{SQL: stmt.SQL, cause: err}
		}
		if err := fn(newRecord(row, stmt.Columns)); err != nil {
			return err
		}
	}
}

// Transaction returns an unstarted transaction bound to this session. Call
// Start on it; whether it becomes the root or a savepoint depends on the
// session's state at that moment.
func (s *Session) Transaction() *Transaction {
	return &Transaction{session: s}
}

// WithTransaction executes fn within a transaction. If fn returns an error
// or panics, the transaction is rolled back; otherwise it is committed. The
// rollback runs on a detached timeout context so that a canceled caller
// context cannot leave the transaction open.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx := s.Transaction()
	if err := tx.Start(ctx); err != nil {
		return err
	}

	rollbackCtx, cancelRollback := context.WithTimeout(context.Background(), defaultRollbackTimeout)
	defer cancelRollback()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
		if err != nil && tx.state == txActive {
			_ = tx.Rollback(rollbackCtx)
		}
	}()

	err = fn(ctx)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close ends the session. When the session was opened with
// WithRollbackIsolation, the internal transaction is rolled back first,
// erasing the session's writes; the rollback runs on a detached timeout
// context so it happens even when the caller's context is already canceled.
// Close then verifies that every lease was released; outstanding leases are
// reported as a UsageError. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.isolation != nil {
		tx := s.isolation
		s.isolation = nil

		ctx, cancel := context.WithTimeout(context.Background(), defaultRollbackTimeout)
		err = tx.Rollback(ctx)
		cancel()
	}

	if s.leaseCount != 0 || s.conn != nil {
		err = joinCleanup(err, usageErrorf("session closed with %d connection lease(s) outstanding", s.leaseCount))
	}
	return err
}

// compile renders the query for the session's dialect and logs the statement
// text. Argument values are deliberately not logged.
func (s *Session) compile(q Query) (*driver.Statement, error) {
	stmt, err := q.Compile(s.dialect)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("executing statement", "dialect", s.dialect.Name(), "sql", stmt.SQL)
	return stmt, nil
}
