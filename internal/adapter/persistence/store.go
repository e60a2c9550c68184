package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// writerLockKey is the advisory lock id taken by every write transaction on
// PostgreSQL.
const writerLockKey int64 = 0x5371_6c41_7564_6974

// Querier is the subset of *sql.DB and *sql.Tx the repositories use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store is the durable store. It implements ports.UnitOfWork.
type Store struct {
	db      *sql.DB
	readDB  *sql.DB
	dialect Dialect
}

// NewStore wraps the write and read pools. readDB may be the same pool as db.
func NewStore(db, readDB *sql.DB, dialect Dialect) *Store {
	if readDB == nil {
		readDB = db
	}
	return &Store{db: db, readDB: readDB, dialect: dialect}
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB returns the write pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes both pools.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.readDB != s.db {
		if rerr := s.readDB.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// Ping checks the write pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Repositories returns repositories bound to the read pool, outside any
// transaction.
func (s *Store) Repositories() ports.Repositories {
	return s.bind(s.readDB)
}

func (s *Store) bind(q Querier) ports.Repositories {
	return ports.Repositories{
		Runs:        NewRunRepository(q),
		Findings:    NewFindingRepository(q),
		Annotations: NewAnnotationRepository(q),
		Exceptions:  NewExceptionRepository(q),
		Actions:     NewActionRepository(q),
	}
}

// WithinTx runs fn in a write transaction holding the writer lock. fn's error
// rolls the transaction back and is returned unchanged.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreError("begin write transaction", "", err)
	}

	if err := s.lock(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(ctx, s.bind(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapStoreError("commit", "", err)
	}
	return nil
}

// WithinReadTx runs fn in a read-only transaction so every read sees one
// consistent state.
func (s *Store) WithinReadTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	tx, err := s.readDB.BeginTx(ctx, opts)
	if err != nil {
		return mapStoreError("begin read transaction", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(ctx, s.bind(tx))
}

// lock takes the store-native writer lock. SQLite already holds its reserved
// lock because the write pool begins IMMEDIATE transactions.
func (s *Store) lock(ctx context.Context, tx *sql.Tx) error {
	if s.dialect != DialectPostgres {
		return nil
	}

	var acquired bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, writerLockKey).Scan(&acquired); err != nil {
		return mapStoreError("acquire writer lock", "", err)
	}
	if !acquired {
		return &domain.PersistenceConflictError{
			Operation: "acquire writer lock",
			Cause:     errors.New("another reconciliation pass holds the writer lock"),
		}
	}
	return nil
}

// mapStoreError turns driver errors that mean "someone else got there first"
// into PersistenceConflictError and wraps everything else.
func mapStoreError(operation string, key domain.EntityKey, err error) error {
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return &domain.PersistenceConflictError{Operation: operation, EntityKey: key, Cause: err}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01", "55P03":
			// unique_violation, serialization_failure, deadlock_detected, lock_not_available
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return true
		}
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
