package driver

import "context"

// Row is a single result row. Scan returns ErrNoRows (wrapped) when nothing matched.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result set. Callers must Close it.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Executor runs SQL against either the pool or an open transaction.
//
// Errors returned by every method are already normalized: they wrap
// ErrNoRows, ErrConflict or ErrUnavailable when one of those applies.
type Executor interface {
	// Begin starts a new transaction, or a savepoint when called on a transaction.
	Begin(ctx context.Context) (ExecutorTx, error)

	// Exec executes a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a query that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// ExecutorTx is an Executor bound to an open transaction.
type ExecutorTx interface {
	Executor

	// Commit commits the transaction, or releases the savepoint.
	Commit(ctx context.Context) error

	// Rollback rolls back the transaction, or to the savepoint.
	Rollback(ctx context.Context) error
}

// BatchItem is one statement of a batch.
type BatchItem struct {
	Query string
	Args  []any
}

// BatchExecutor is implemented by executors that can pipeline statements.
// pgx/v5 sends one round trip; database/sql runs the items in order.
type BatchExecutor interface {
	Executor

	// SendBatch returns the rows affected per item.
	SendBatch(ctx context.Context, items []BatchItem) ([]int64, error)
}

// ExecBatch runs items through SendBatch when exec supports it and falls
// back to sequential Exec otherwise.
func ExecBatch(ctx context.Context, exec Executor, items []BatchItem) ([]int64, error) {
	if be, ok := exec.(BatchExecutor); ok {
		return be.SendBatch(ctx, items)
	}
	affected := make([]int64, len(items))
	for i, item := range items {
		n, err := exec.Exec(ctx, item.Query, item.Args...)
		if err != nil {
			return nil, err
		}
		affected[i] = n
	}
	return affected, nil
}
