// Package databasesql provides a database/sql driver for convpath, using
// lib/pq for the connection, LISTEN/NOTIFY and error codes.
//
// Usage:
//
//	db, _ := sql.Open("postgres", connStr)
//	drv := databasesql.New(db, connStr)
//	store := storage.NewPostgresStore(drv)
package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/lib/pq"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
)

// Driver implements driver.Driver using database/sql.
type Driver struct {
	db      *sql.DB
	connStr string
}

// New creates a new database/sql driver.
// connStr is only needed for LISTEN; pass "" to run send-only.
func New(db *sql.DB, connStr string) *Driver {
	return &Driver{db: db, connStr: connStr}
}

// Open opens a lib/pq connection pool and wraps it.
func Open(connStr string) (*Driver, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db, connStr), nil
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return &Executor{db: d.db}
}

// Begin starts a new transaction.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return (&Executor{db: d.db}).Begin(ctx)
}

// SupportsListener reports whether a connection string was provided.
func (d *Driver) SupportsListener() bool {
	return d.connStr != ""
}

// GetListener opens a lib/pq listener connection.
func (d *Driver) GetListener(ctx context.Context) (driver.Listener, error) {
	if !d.SupportsListener() {
		return nil, nil
	}
	return NewListener(d.connStr), nil
}

// GetNotifier returns a Notifier that sends NOTIFY through the pool.
func (d *Driver) GetNotifier() driver.Notifier {
	return &Notifier{db: d.db}
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Close closes the underlying pool.
func (d *Driver) Close() error {
	return d.db.Close()
}

// Executor wraps *sql.DB.
type Executor struct {
	db *sql.DB
}

// Begin starts a new transaction.
func (e *Executor) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, normalizeError(err)
	}
	return &ExecutorTx{tx: tx, savepoints: new(atomic.Int64)}, nil
}

// Exec executes a statement that doesn't return rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return exec(ctx, e.db, query, args...)
}

// Query executes a query that returns rows.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeError(err)
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row.
func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return rowWrapper{e.db.QueryRowContext(ctx, query, args...)}
}

// ExecutorTx wraps *sql.Tx. Nested Begin calls create savepoints.
type ExecutorTx struct {
	tx         *sql.Tx
	savepoint  string
	savepoints *atomic.Int64
}

// Begin creates a savepoint inside the transaction.
func (e *ExecutorTx) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	name := fmt.Sprintf("convpath_sp_%d", e.savepoints.Add(1))
	if _, err := e.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, normalizeError(err)
	}
	return &ExecutorTx{tx: e.tx, savepoint: name, savepoints: e.savepoints}, nil
}

// Exec executes a statement within the transaction.
func (e *ExecutorTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return exec(ctx, e.tx, query, args...)
}

// Query executes a query within the transaction.
func (e *ExecutorTx) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeError(err)
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row within the transaction.
func (e *ExecutorTx) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return rowWrapper{e.tx.QueryRowContext(ctx, query, args...)}
}

// Commit commits the transaction or releases the savepoint.
func (e *ExecutorTx) Commit(ctx context.Context) error {
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+e.savepoint)
		return normalizeError(err)
	}
	return normalizeError(e.tx.Commit())
}

// Rollback rolls back the transaction or to the savepoint.
func (e *ExecutorTx) Rollback(ctx context.Context) error {
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+e.savepoint)
		return normalizeError(err)
	}
	err := e.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return normalizeError(err)
}

// Tx returns the underlying *sql.Tx.
func (e *ExecutorTx) Tx() *sql.Tx {
	return e.tx
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func exec(ctx context.Context, db execer, query string, args ...any) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, normalizeError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, normalizeError(err)
	}
	return n, nil
}

type rowWrapper struct {
	row *sql.Row
}

func (r rowWrapper) Scan(dest ...any) error {
	return normalizeError(r.row.Scan(dest...))
}

type rowsWrapper struct {
	rows *sql.Rows
}

func (r *rowsWrapper) Close()     { _ = r.rows.Close() }
func (r *rowsWrapper) Next() bool { return r.rows.Next() }

func (r *rowsWrapper) Err() error {
	return normalizeError(r.rows.Err())
}

func (r *rowsWrapper) Scan(dest ...any) error {
	return normalizeError(r.rows.Scan(dest...))
}

// normalizeError wraps database/sql and lib/pq errors with the driver-level kinds.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", driver.ErrNoRows, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind := driver.ClassifyCode(string(pqErr.Code)); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", driver.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", driver.ErrUnavailable, err)
	}
	return err
}

// Compile-time checks
var (
	_ driver.Driver     = (*Driver)(nil)
	_ driver.ExecutorTx = (*ExecutorTx)(nil)
)
