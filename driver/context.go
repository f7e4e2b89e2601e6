package driver

import "context"

// executorTxContextKey is the context key for storing ExecutorTx.
type executorTxContextKey struct{}

// WithExecutor returns a context carrying exec. Store methods called with
// the returned context run inside that transaction.
//
// Example:
//
//	tx, _ := drv.Begin(ctx)
//	txCtx := driver.WithExecutor(ctx, tx)
//	// every store call made with txCtx joins tx
func WithExecutor(ctx context.Context, exec ExecutorTx) context.Context {
	return context.WithValue(ctx, executorTxContextKey{}, exec)
}

// ExecutorFromContext retrieves the transaction from ctx, or nil if there is none.
func ExecutorFromContext(ctx context.Context) ExecutorTx {
	if exec, ok := ctx.Value(executorTxContextKey{}).(ExecutorTx); ok {
		return exec
	}
	return nil
}

// StripExecutor returns a context that no longer carries a transaction but
// keeps deadline, cancellation and every other value. Background work spawned
// from inside a transaction (notifications, follow-up jobs) uses it so it
// does not write through a transaction that may already be finished.
func StripExecutor(ctx context.Context) context.Context {
	return &executorStrippedContext{ctx}
}

type executorStrippedContext struct {
	context.Context
}

func (c *executorStrippedContext) Value(key any) any {
	if _, ok := key.(executorTxContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
