// Package driver defines the contracts between the dbsession layer and
// database backends.
//
// A backend supplies a Driver; the dbsession package drives it through the
// Pool, Conn and Cursor interfaces and never imports a database client
// directly. The division of labor mirrors database/sql and its driver
// package: applications import the root package plus one backend package for
// its registration side effect.
//
// Backends in this module: postgres (pgx v5), mysql (go-sql-driver) and
// sqlite (mattn/go-sqlite3).
package driver

import (
	"context"
	"time"
)

// PoolOptions carries pool sizing resolved by the dbsession layer. Values are
// already defaulted; backends may map them onto their client's nearest knobs.
type PoolOptions struct {
	// MaxConns is the pool capacity.
	MaxConns int32

	// MinConns is the number of connections kept open when idle. Backends
	// without a direct equivalent approximate it (database/sql maps it to
	// the idle-connection ceiling).
	MinConns int32

	// MaxConnLifetime bounds the total age of a pooled connection.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime bounds how long an idle connection is retained.
	MaxConnIdleTime time.Duration

	// ConnectTimeout bounds the initial dial/handshake.
	ConnectTimeout time.Duration
}

// Driver is the entry point a backend registers with dbsession.Register.
type Driver interface {
	// Dialect reports the SQL dialect queries compile against.
	Dialect() Dialect

	// Open establishes a connection pool for the given URL. The URL has
	// already had dbsession-level options (min_size, max_size) removed;
	// remaining query options are the backend's to interpret. Open must
	// verify connectivity before returning.
	Open(ctx context.Context, dsn string, opts PoolOptions) (Pool, error)
}

// Pool hands out database connections. Implementations must be safe for
// concurrent use; the sessions built on top are not.
type Pool interface {
	// Acquire checks a connection out of the pool. Errors (exhaustion,
	// dial failures, canceled context) are returned to callers unchanged.
	Acquire(ctx context.Context) (Conn, error)

	// Release returns a connection obtained from Acquire. The connection
	// must not be used afterward.
	Release(conn Conn) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases all pool resources. Call once during shutdown.
	Close() error
}

// Conn is a single database connection checked out of a Pool. Transaction
// state (BEGIN, SAVEPOINT) is connection-scoped, which is why the session
// layer pins one Conn across all operations that share a transaction.
type Conn interface {
	// Cursor returns a fresh cursor for executing one or more statements.
	// Cursors on the same Conn must be used sequentially.
	Cursor() Cursor

	// Begin opens a connection-level transaction.
	Begin(ctx context.Context) error

	// Commit commits the connection-level transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the connection-level transaction.
	Rollback(ctx context.Context) error
}

// Cursor executes statements on its connection. Execute buffers any result
// rows before returning, so statement failures surface there rather than
// during fetches, and the connection is free for the next statement as soon
// as Execute returns.
type Cursor interface {
	// Execute runs one statement with positional args.
	Execute(ctx context.Context, sql string, args []any) error

	// FetchOne returns the next buffered row, or io.EOF when the result
	// set is exhausted.
	FetchOne() ([]any, error)

	// FetchAll returns all remaining buffered rows.
	FetchAll() ([][]any, error)

	// Close discards any unread rows. It is safe to call more than once.
	Close() error
}

// Dialect is the compilation target queries are rendered against.
type Dialect interface {
	// Name identifies the dialect ("postgres", "mysql", "sqlite").
	Name() string

	// Placeholder renders the parameter placeholder for 1-based position i.
	// Dialects with numbered placeholders ($1, $2) may be handed the same
	// position more than once when a named parameter repeats.
	Placeholder(i int) string
}

// Statement is the compiled form of a query: dialect SQL, positional args,
// and descriptors for the columns the statement produces.
type Statement struct {
	SQL     string
	Args    []any
	Columns []Column
}

// Column describes one result column.
type Column struct {
	Name string
	Type Type
}

// Col is shorthand for constructing a Column.
func Col(name string, t Type) Column {
	return Column{Name: name, Type: t}
}
