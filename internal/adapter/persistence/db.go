// Package persistence implements the durable store over database/sql. The same
// repositories serve PostgreSQL and SQLite; SQL is written to the subset both
// understand and dialect differences are confined to locking and error codes.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", raw)
}

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000"
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// OpenSQLite opens a pool for the SQLite file at path. Mode "write" gets a
// single connection whose transactions begin IMMEDIATE, so a second writer
// waits for busy_timeout and then fails with SQLITE_BUSY. Mode "read" gets
// up to maxOpen deferred connections.
func OpenSQLite(path string, mode string, maxOpen int) (*sql.DB, error) {
	if mode != "read" && mode != "write" {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be \"read\" or \"write\"", mode)
	}

	db, err := sql.Open(string(DialectSQLite), buildSQLiteDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite (%s): %w", mode, err)
	}

	switch mode {
	case "write":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case "read":
		if maxOpen <= 0 {
			maxOpen = 4
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

func buildSQLiteDSN(path string, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")
	if mode == "write" {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}

// OpenPostgres opens a PostgreSQL pool.
func OpenPostgres(dsn string, maxConns int, maxIdleTime time.Duration) (*sql.DB, error) {
	db, err := sql.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if maxIdleTime > 0 {
		db.SetConnMaxIdleTime(maxIdleTime)
	}
	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Open connects to the configured store and returns it with migrations
// applied when migrate is set.
func Open(dialect Dialect, dsn string, maxConns int, maxIdleTime time.Duration, migrate bool) (*Store, error) {
	var (
		writeDB, readDB *sql.DB
		err             error
	)

	switch dialect {
	case DialectSQLite:
		writeDB, err = OpenSQLite(dsn, "write", 0)
		if err != nil {
			return nil, err
		}
		readDB, err = OpenSQLite(dsn, "read", maxConns)
		if err != nil {
			_ = writeDB.Close()
			return nil, err
		}
	case DialectPostgres:
		writeDB, err = OpenPostgres(dsn, maxConns, maxIdleTime)
		if err != nil {
			return nil, err
		}
		readDB = writeDB
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	store := NewStore(writeDB, readDB, dialect)
	if migrate {
		if err := RunMigrations(writeDB, dialect); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
