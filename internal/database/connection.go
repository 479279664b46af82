package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavor the connection speaks. Queries in the
// repositories are written with $N placeholders and converted on the fly for
// drivers that want ?.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite3"
)

// Options carries everything needed to open a connection pool.
type Options struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string // sqlite only
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB bundles the pool with its dialect so callers can build portable SQL.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects and verifies the pool with a ping.
func Open(opts Options) (*DB, error) {
	dialect, dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}
	pool, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{DB: pool, Dialect: dialect}, nil
}

func buildDSN(opts Options) (Dialect, string, error) {
	switch opts.Driver {
	case "postgres", "postgresql", "pg":
		sslMode := opts.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			opts.Host, opts.Port, opts.User, opts.Password, opts.Name, sslMode)
		return DialectPostgres, dsn, nil
	case "mysql", "mariadb":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			opts.User, opts.Password, opts.Host, opts.Port, opts.Name)
		return DialectMySQL, dsn, nil
	case "sqlite", "sqlite3":
		path := opts.Path
		if path == "" {
			path = "opendesk.db"
		}
		return DialectSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}
