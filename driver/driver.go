// Package driver provides database driver abstractions for convpath.
//
// This package defines the interfaces that database drivers must implement
// so that the Postgres store can run on top of either pgx/v5 or
// database/sql + lib/pq with the same SQL.
package driver

import (
	"context"
)

// Driver provides database access for the store and the notifier.
//
// Implementations should be created using the driver-specific New() functions:
//   - driver/pgxv5.New(pool)
//   - driver/databasesql.New(db, connStr)
type Driver interface {
	// GetExecutor returns an executor for non-transactional operations.
	// The returned Executor uses the underlying connection pool.
	GetExecutor() Executor

	// Begin starts a new transaction and returns an ExecutorTx.
	Begin(ctx context.Context) (ExecutorTx, error)

	// SupportsListener returns true if this driver can hold a dedicated
	// LISTEN connection.
	SupportsListener() bool

	// GetListener returns a Listener for receiving PostgreSQL notifications.
	// Returns nil if SupportsListener() returns false.
	// The returned Listener must be closed when no longer needed.
	GetListener(ctx context.Context) (Listener, error)

	// GetNotifier returns a Notifier for sending PostgreSQL notifications.
	GetNotifier() Notifier
}

// Beginner is an interface for types that can begin transactions.
type Beginner interface {
	Begin(ctx context.Context) (ExecutorTx, error)
}
