// Package mysql implements the dbsession driver contract over database/sql
// with go-sql-driver/mysql. Importing it registers the "mysql" dialect:
//
//	import _ "github.com/go-dbsession/dbsession/mysql"
package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-dbsession/dbsession"
	"github.com/go-dbsession/dbsession/driver"
	"github.com/go-dbsession/dbsession/internal/sqladapter"
	"github.com/go-sql-driver/mysql"
)

func init() {
	dbsession.Register("mysql", &Driver{})
}

// Driver opens MySQL pools via database/sql.
type Driver struct{}

var _ driver.Driver = (*Driver)(nil)

// Dialect returns the mysql dialect: anonymous ? placeholders.
func (*Driver) Dialect() driver.Dialect { return dialect{} }

// Open maps the URL onto a go-sql-driver DSN and opens the pool through the
// shared database/sql adapter.
func (*Driver) Open(ctx context.Context, dsn string, opts driver.PoolOptions) (driver.Pool, error) {
	cfg, err := configFromURL(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := sqladapter.Open(ctx, "mysql", cfg.FormatDSN(), opts)
	if err != nil {
		// SECURITY: cause may include credentials; keep outer error safe.
		return nil, dbsession.NewSafeError(
			fmt.Sprintf("dbsession/mysql: connect failed (addr=%s)", cfg.Addr), err)
	}
	return pool, nil
}

// configFromURL translates a database URL into driver settings. ParseTime is
// on by default so DATETIME columns arrive as time.Time rather than []byte.
func configFromURL(dsn string) (*mysql.Config, error) {
	u, err := dbsession.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	cfg := mysql.NewConfig()
	cfg.User = u.Username()
	cfg.Passwd = u.Password()
	cfg.DBName = u.Database()
	cfg.ParseTime = true

	if host := u.Hostname(); host != "" {
		port := u.Port()
		if port == 0 {
			port = 3306
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	for key, vals := range u.Options() {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]
		switch key {
		case "ssl":
			// ssl=true maps to the driver's TLS mode; any other value is
			// passed through as a named TLS config.
			switch val {
			case "true", "1":
				cfg.TLSConfig = "true"
			case "false", "0":
				cfg.TLSConfig = ""
			default:
				cfg.TLSConfig = val
			}
		case "parseTime":
			pt, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("dbsession/mysql: invalid parseTime option %q", val)
			}
			cfg.ParseTime = pt
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[key] = val
		}
	}

	return cfg, nil
}

type dialect struct{}

var _ driver.Dialect = dialect{}

func (dialect) Name() string { return "mysql" }

func (dialect) Placeholder(int) string { return "?" }
