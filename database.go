package dbsession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-dbsession/dbsession/driver"
)

// Database ties a URL to its registered backend and owns the pool the
// backend creates. Connect and Disconnect are idempotent; everything else
// requires a connected Database. A Database is safe for concurrent use, the
// sessions it hands out are not.
type Database struct {
	cfg    Config
	url    *URL
	drv    driver.Driver
	logger *slog.Logger

	mu   sync.Mutex
	pool driver.Pool
}

// New builds a Database for cfg.URL. The URL's dialect must match a
// registered backend. No I/O happens until Connect.
func New(cfg Config) (*Database, error) {
	if cfg.URL == "" {
		return nil, errors.New("dbsession: Config.URL is required")
	}
	u, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	drv, err := lookupDriver(u.Dialect())
	if err != nil {
		return nil, err
	}
	return &Database{cfg: cfg, url: u, drv: drv, logger: cfg.logger()}, nil
}

// OpenDriver builds a Database over an explicit driver, bypassing the
// registry. cfg.URL is optional here; when set it is parsed and passed to
// the driver as usual. Tests use this with the in-memory test driver.
func OpenDriver(drv driver.Driver, cfg Config) (*Database, error) {
	if drv == nil {
		return nil, errors.New("dbsession: OpenDriver requires a driver")
	}
	var (
		u   *URL
		err error
	)
	if cfg.URL != "" {
		u, err = ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
	}
	return &Database{cfg: cfg, url: u, drv: drv, logger: cfg.logger()}, nil
}

// URL returns the parsed database URL, or nil when the Database was opened
// without one.
func (d *Database) URL() *URL { return d.url }

// Connect creates the backend pool and verifies connectivity. Calling
// Connect on a connected Database is a no-op.
func (d *Database) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return nil
	}

	opts, err := d.cfg.poolOptions(d.url)
	if err != nil {
		return err
	}
	var dsn string
	if d.url != nil {
		dsn = d.url.driverDSN()
	}

	pool, err := d.drv.Open(ctx, dsn, opts)
	if err != nil {
		return err
	}
	d.pool = pool
	d.logger.Debug("database connected", "dialect", d.drv.Dialect().Name())
	return nil
}

// Disconnect closes the pool. Sessions must be closed first; pool
// implementations commonly block until checked-out connections come back.
// Calling Disconnect on a disconnected Database is a no-op.
func (d *Database) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil
	}
	pool := d.pool
	d.pool = nil
	err := pool.Close()
	d.logger.Debug("database disconnected", "dialect", d.drv.Dialect().Name())
	return err
}

// IsConnected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (d *Database) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool != nil
}

// Ping verifies connectivity through the pool.
func (d *Database) Ping(ctx context.Context) error {
	pool, err := d.currentPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return NewSafeError("dbsession: ping failed", err)
	}
	return nil
}

func (d *Database) currentPool() (driver.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil, ErrNotConnected
	}
	return d.pool, nil
}

// Session opens a session over the pool. With WithRollbackIsolation the
// session starts an internal transaction that Close always rolls back,
// which gives tests a database that forgets everything the session did.
func (d *Database) Session(ctx context.Context, opts ...SessionOption) (*Session, error) {
	pool, err := d.currentPool()
	if err != nil {
		return nil, err
	}

	var so sessionOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&so)
	}

	s := &Session{pool: pool, dialect: d.drv.Dialect(), logger: d.logger}
	if so.rollbackIsolation {
		tx := s.Transaction()
		if err := tx.Start(ctx); err != nil {
			return nil, err
		}
		s.isolation = tx
	}
	return s, nil
}

// FetchAll runs the query in an ephemeral session and returns all rows.
func (d *Database) FetchAll(ctx context.Context, q Query) (records []Record, err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.FetchAll(ctx, q)
}

// FetchOne runs the query in an ephemeral session and returns the first row,
// or ErrNoRows.
func (d *Database) FetchOne(ctx context.Context, q Query) (record Record, err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.FetchOne(ctx, q)
}

// Execute runs the statement in an ephemeral session.
func (d *Database) Execute(ctx context.Context, q Query) (err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.Execute(ctx, q)
}

// ExecuteMany runs the statement once per value set in an ephemeral session.
func (d *Database) ExecuteMany(ctx context.Context, q Bindable, sets []Values) (err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.ExecuteMany(ctx, q, sets)
}

// Iterate runs the query in an ephemeral session, calling fn for each row.
func (d *Database) Iterate(ctx context.Context, q Query, fn func(Record) error) (err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.Iterate(ctx, q, fn)
}

// WithTransaction opens an ephemeral session and runs fn inside a
// transaction on it. See Session.WithTransaction for the commit and rollback
// rules.
func (d *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer func() { err = joinCleanup(err, s.Close()) }()
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, s)
	})
}
