package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
)

// Listener reconnect bounds passed to pq.NewListener.
const (
	minReconnectInterval = 1 * time.Second
	maxReconnectInterval = 30 * time.Second
)

var errListenerClosed = errors.New("listener closed")

// Listener implements driver.Listener with a lib/pq listener connection.
type Listener struct {
	mu     sync.Mutex
	pql    *pq.Listener
	closed bool
}

// NewListener opens a listener connection for connStr.
func NewListener(connStr string) *Listener {
	return &Listener{
		pql: pq.NewListener(connStr, minReconnectInterval, maxReconnectInterval, nil),
	}
}

// Listen subscribes to channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	pql, err := l.listener()
	if err != nil {
		return err
	}
	if err := pql.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return normalizeError(err)
	}
	return nil
}

// Unlisten unsubscribes from channel.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	pql, err := l.listener()
	if err != nil {
		return err
	}
	if err := pql.Unlisten(channel); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		return normalizeError(err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives or ctx is done.
// lib/pq sends a nil notification after a reconnect; it is reported as a
// lost connection so callers resubscribe.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	pql, err := l.listener()
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n, ok := <-pql.Notify:
		if !ok {
			return nil, errListenerClosed
		}
		if n == nil {
			return nil, normalizeError(sql.ErrConnDone)
		}
		return &driver.Notification{Channel: n.Channel, Payload: n.Extra}, nil
	}
}

// Ping checks the listener connection.
func (l *Listener) Ping(ctx context.Context) error {
	pql, err := l.listener()
	if err != nil {
		return err
	}
	return normalizeError(pql.Ping())
}

// Close closes the listener connection.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.pql.Close()
}

func (l *Listener) listener() (*pq.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errListenerClosed
	}
	return l.pql, nil
}

// Notifier implements driver.Notifier using database/sql.
type Notifier struct {
	db *sql.DB
}

// Notify sends a notification on the specified channel.
func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	_, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return normalizeError(err)
}

// Compile-time checks
var (
	_ driver.Listener = (*Listener)(nil)
	_ driver.Notifier = (*Notifier)(nil)
)
