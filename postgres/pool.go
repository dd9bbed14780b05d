package postgres

import (
	"context"
	"errors"
	"io"

	"github.com/go-dbsession/dbsession/driver"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool implements driver.Pool over pgxpool. It intentionally wraps (does not
// embed) *pgxpool.Pool.
type Pool struct {
	pool *pgxpool.Pool
}

var _ driver.Pool = (*Pool)(nil)

func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (p *Pool) Release(conn driver.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return errors.New("dbsession/postgres: connection was not acquired from this pool")
	}
	c.conn.Release()
	return nil
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// Conn implements driver.Conn over one checked-out pgx connection.
// Transaction verbs are issued as plain SQL so that the session layer owns
// the transaction wording; pgx's own Begin/Commit tracking is not involved.
type Conn struct {
	conn *pgxpool.Conn
}

var _ driver.Conn = (*Conn)(nil)

func (c *Conn) Cursor() driver.Cursor { return &cursor{conn: c.conn} }

func (c *Conn) Begin(ctx context.Context) error { return c.exec(ctx, "BEGIN") }

func (c *Conn) Commit(ctx context.Context) error { return c.exec(ctx, "COMMIT") }

func (c *Conn) Rollback(ctx context.Context) error { return c.exec(ctx, "ROLLBACK") }

func (c *Conn) exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

// cursor buffers the full result at Execute time. pgx defers some statement
// errors to the row iteration, so draining eagerly is what makes failures
// surface from Execute rather than from a later fetch or close.
type cursor struct {
	conn *pgxpool.Conn
	rows [][]any
	idx  int
}

var _ driver.Cursor = (*cursor)(nil)

func (c *cursor) Execute(ctx context.Context, sql string, args []any) error {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var buf [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		row := make([]any, len(vals))
		copy(row, vals)
		buf = append(buf, row)
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
