package pgxv5

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
)

var errListenerClosed = errors.New("listener closed")

// Listener implements driver.Listener on a dedicated pool connection.
type Listener struct {
	mu     sync.Mutex
	conn   *pgxpool.Conn
	closed bool
}

// Listen subscribes the connection to channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return normalizeError(err)
}

// Unlisten unsubscribes the connection from channel.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize())
	return normalizeError(err)
}

// WaitForNotification blocks until a notification arrives.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	conn, err := l.connection()
	if err != nil {
		return nil, err
	}
	n, err := conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}
	return &driver.Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Ping checks the connection.
func (l *Listener) Ping(ctx context.Context) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	return normalizeError(conn.Ping(ctx))
}

// Close releases the connection back to the pool.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.conn != nil {
		// A connection that was listening must not be reused by the pool.
		_ = l.conn.Conn().Close(ctx)
		l.conn.Release()
		l.conn = nil
	}
	return nil
}

func (l *Listener) connection() (*pgxpool.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.conn == nil {
		return nil, errListenerClosed
	}
	return l.conn, nil
}

// Notifier implements driver.Notifier using pg_notify.
type Notifier struct {
	pool *pgxpool.Pool
}

// Notify sends payload on channel.
func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	exec := driver.Executor(&Executor{pool: n.pool})
	if tx := driver.ExecutorFromContext(ctx); tx != nil {
		exec = tx
	}
	_, err := exec.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// Compile-time checks
var (
	_ driver.Listener = (*Listener)(nil)
	_ driver.Notifier = (*Notifier)(nil)
)
