// Package database stores the journal of bulk credential operations in
// SQLite or PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a journal entry does not exist
var ErrNotFound = errors.New("journal entry not found")

// DB wraps the journal database connection
type DB struct {
	conn   *sql.DB
	driver string
}

// Config holds database configuration options
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewDB opens the journal database and applies the schema
func NewDB(config Config) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch config.Driver {
	case DriverSQLite, "":
		config.Driver = DriverSQLite
		conn, err = openSQLite(config.DSN)
	case DriverPostgres:
		conn, err = openPostgres(config)
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", config.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, driver: config.Driver}

	if db.driver == DriverSQLite {
		if err := db.configurePragmas(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to configure pragmas: %w", err)
		}
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	}

	conn, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single connection: SQLite serializes writers and :memory: is per connection
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func openPostgres(config Config) (*sql.DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	conn, err := sql.Open(DriverPostgres, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if config.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxLifetime > 0 {
		conn.SetConnMaxLifetime(config.MaxLifetime)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// configurePragmas sets SQLite pragmas
func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = memory",
	}

	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// Driver returns the name of the underlying driver
func (db *DB) Driver() string {
	return db.driver
}

// Health checks the database connection
func (db *DB) Health(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
