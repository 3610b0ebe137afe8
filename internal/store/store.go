// Package store owns the embedded SQL schema shared by the credential,
// health, catalog, and usage components. It supports SQLite for the default
// single-node install and Postgres for server deployments; all queries are
// written with ? placeholders and rewritten per dialect.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB wraps the connection pool with dialect-aware query binding.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the store. driver is "sqlite" (default; dsn is a file
// path) or "postgres" (dsn is a connection string).
func Open(driver, dsn string) (*DB, error) {
	driver = strings.TrimSpace(strings.ToLower(driver))
	dsn = strings.TrimSpace(dsn)

	var (
		db  *sql.DB
		err error
		d   Dialect
	)
	switch driver {
	case "", string(DialectSQLite):
		if dsn == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		db, err = sql.Open("sqlite", dsn)
		d = DialectSQLite
	case string(DialectPostgres):
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		db, err = sql.Open("postgres", dsn)
		d = DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", d, err)
	}
	if d == DialectSQLite {
		// modernc.org/sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	}
	return &DB{db: db, dialect: d}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error { return d.db.Close() }

// Dialect reports the active backend.
func (d *DB) Dialect() Dialect { return d.dialect }

// Bind rewrites ? placeholders to $N for Postgres.
func (d *DB) Bind(query string) string { return bind(d.dialect, query) }

func bind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exec runs a statement with dialect binding applied.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.Bind(query), args...)
}

// Query runs a query with dialect binding applied.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.Bind(query), args...)
}

// QueryRow runs a single-row query with dialect binding applied.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.Bind(query), args...)
}

// Tx is a transaction handle with the same binding behavior as DB.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, bind(t.dialect, query), args...)
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, bind(t.dialect, query), args...)
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, bind(t.dialect, query), args...)
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: tx, dialect: d.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FormatTime renders a timestamp in the stored form: RFC 3339 UTC, which
// sorts lexicographically.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
