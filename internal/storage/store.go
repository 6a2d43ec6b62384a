package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	liverrors "github.com/xtxerr/livedata/internal/errors"
)

// Store is the shared handle to the on-disk DuckDB database.
//
// Store is safe for concurrent use. The pool allows several connections to
// the same file; dedicated writers pin their own *sql.Conn from it.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database file at path, creating it and its parent
// directories if absent. Failures wrap ErrUnopenable: the file being
// unopenable is fatal at startup, there is no degraded mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", liverrors.ErrUnopenable, err)
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", liverrors.ErrUnopenable, err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0) // keep connections for the process lifetime

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", liverrors.ErrUnopenable, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the store and all pooled connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying pool. Prefer the Store helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Conn pins a dedicated connection from the pool. Sustained writers use
// this so they never contend with query traffic for a handle.
func (s *Store) Conn(ctx context.Context) (*sql.Conn, error) {
	return s.db.Conn(ctx)
}

// FileSize returns the database file's current on-disk size in bytes.
// A missing file reports zero.
func (s *Store) FileSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ExecContext executes a statement with context.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	traceSQL(query)
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query with context and returns rows.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	traceSQL(query)
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query with context and returns a single row.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	traceSQL(query)
	return s.db.QueryRowContext(ctx, query, args...)
}

// Transaction executes fn within a transaction on the shared pool. On error
// the transaction is rolled back; a panic in fn rolls back before
// repanicking.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Checkpoint forces the write-ahead log into the database file so committed
// data is durably visible to every other connection.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.ExecContext(ctx, "CHECKPOINT")
	return liverrors.Wrap(err, "checkpoint")
}

// Vacuum reclaims space after deletions. Synchronous: it blocks other
// activity on its connection for the duration.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.ExecContext(ctx, "VACUUM"); err != nil {
		return liverrors.Wrap(err, "vacuum")
	}
	return s.Checkpoint(ctx)
}

// TableExists reports whether a table is present in the current schema.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return count > 0, nil
}

// RowCount returns the number of rows in a table, or zero when the table
// does not exist yet.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var count int64
	err = s.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
