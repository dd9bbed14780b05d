// Package sqlite implements the dbsession driver contract over database/sql
// with mattn/go-sqlite3. Importing it registers the "sqlite" and "sqlite3"
// dialects:
//
//	import _ "github.com/go-dbsession/dbsession/sqlite"
//
// URLs address files as sqlite:///relative.db or sqlite:////var/lib/abs.db;
// sqlite:///:memory: opens an in-memory database. Query options pass through
// to the driver (_journal_mode, _synchronous, ...).
package sqlite

import (
	"context"
	"errors"

	"github.com/go-dbsession/dbsession"
	"github.com/go-dbsession/dbsession/driver"
	"github.com/go-dbsession/dbsession/internal/sqladapter"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver registration
)

func init() {
	d := &Driver{}
	dbsession.Register("sqlite", d)
	dbsession.Register("sqlite3", d)
}

// Driver opens SQLite databases via database/sql.
type Driver struct{}

var _ driver.Driver = (*Driver)(nil)

// Dialect returns the sqlite dialect: anonymous ? placeholders.
func (*Driver) Dialect() driver.Dialect { return dialect{} }

// Open maps the URL onto a go-sqlite3 connection string and opens the pool
// through the shared database/sql adapter. The pool is clamped to a single
// connection: SQLite serializes writers anyway, and one connection keeps
// :memory: databases coherent across sessions.
func (*Driver) Open(ctx context.Context, dsn string, opts driver.PoolOptions) (driver.Pool, error) {
	connStr, err := connString(dsn)
	if err != nil {
		return nil, err
	}

	opts.MaxConns = 1
	opts.MinConns = 1

	pool, err := sqladapter.Open(ctx, "sqlite3", connStr, opts)
	if err != nil {
		return nil, dbsession.NewSafeError("dbsession/sqlite: open failed", err)
	}
	return pool, nil
}

// connString renders a go-sqlite3 connection string, defaulting a busy
// timeout and foreign-key enforcement unless the URL overrides them.
func connString(dsn string) (string, error) {
	u, err := dbsession.ParseURL(dsn)
	if err != nil {
		return "", err
	}

	path := u.Database()
	if path == "" {
		return "", errors.New("dbsession/sqlite: URL has no database path")
	}

	params := u.Options()
	if params.Get("_busy_timeout") == "" {
		params.Set("_busy_timeout", "5000")
	}
	if params.Get("_foreign_keys") == "" {
		params.Set("_foreign_keys", "on")
	}

	return "file:" + path + "?" + params.Encode(), nil
}

type dialect struct{}

var _ driver.Dialect = dialect{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Placeholder(int) string { return "?" }
