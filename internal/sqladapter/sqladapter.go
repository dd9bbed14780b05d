// Package sqladapter implements the dbsession driver contracts over a
// database/sql pool. The mysql and sqlite backends share it; each supplies
// its own DSN mapping and dialect and delegates pooling here.
//
// Connection affinity matters: savepoints are connection-scoped, so Acquire
// pins a *sql.Conn rather than letting database/sql pick a connection per
// statement.
package sqladapter

import (
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/go-dbsession/dbsession/driver"
)

// Open configures a *sql.DB with the resolved pool options, verifies
// connectivity and wraps it as a driver.Pool.
func Open(ctx context.Context, driverName, connStr string, opts driver.PoolOptions) (driver.Pool, error) {
	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(int(opts.MaxConns))
	// database/sql has no minimum-connection knob; the idle ceiling is the
	// nearest equivalent.
	idle := int(opts.MinConns)
	if idle == 0 {
		idle = 2
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(opts.MaxConnLifetime)
	db.SetConnMaxIdleTime(opts.MaxConnIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Pool{db: db}, nil
}

// Pool implements driver.Pool over *sql.DB.
type Pool struct {
	db *sql.DB
}

var _ driver.Pool = (*Pool)(nil)

func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (p *Pool) Release(conn driver.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return errors.New("dbsession/sqladapter: connection was not acquired from this pool")
	}
	// sql.Conn.Close returns the connection to the pool.
	return c.conn.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn implements driver.Conn over a pinned *sql.Conn. Transaction verbs are
// issued as plain SQL on the pinned connection, mirroring what the session
// layer does for savepoints; database/sql's own Tx type would hide the
// connection and cannot express SAVEPOINT.
type Conn struct {
	conn *sql.Conn
}

var _ driver.Conn = (*Conn)(nil)

func (c *Conn) Cursor() driver.Cursor { return &cursor{conn: c.conn} }

func (c *Conn) Begin(ctx context.Context) error { return c.exec(ctx, "BEGIN") }

func (c *Conn) Commit(ctx context.Context) error { return c.exec(ctx, "COMMIT") }

func (c *Conn) Rollback(ctx context.Context) error { return c.exec(ctx, "ROLLBACK") }

func (c *Conn) exec(ctx context.Context, sqlText string) error {
	_, err := c.conn.ExecContext(ctx, sqlText)
	return err
}

// cursor buffers the full result at Execute time. Draining eagerly frees the
// pinned connection for the next statement; database/sql serializes
// operations on a sql.Conn behind any open Rows.
type cursor struct {
	conn *sql.Conn
	rows [][]any
	idx  int
}

var _ driver.Cursor = (*cursor)(nil)

func (c *cursor) Execute(ctx context.Context, sqlText string, args []any) (err error) {
	rows, err := c.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	var buf [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		buf = append(buf, vals)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	c.rows = buf
	c.idx = 0
	return nil
}

func (c *cursor) FetchOne() ([]any, error) {
	if c.idx >= len(c.rows) {
		return nil, io.EOF
	}
	row := c.rows[c.idx]
	c.idx++
	return row, nil
}

func (c *cursor) FetchAll() ([][]any, error) {
	rest := c.rows[c.idx:]
	c.idx = len(c.rows)
	return rest, nil
}

func (c *cursor) Close() error {
	c.rows = nil
	return nil
}
