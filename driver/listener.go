package driver

import "context"

// Notification represents a PostgreSQL NOTIFY notification.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds a dedicated connection for LISTEN.
//
// The pgx/v5 driver acquires a pool connection; the database/sql driver
// opens a lib/pq listener connection from its connection string.
type Listener interface {
	// Listen starts listening on the channel.
	Listen(ctx context.Context, channel string) error

	// Unlisten stops listening on the channel.
	Unlisten(ctx context.Context, channel string) error

	// WaitForNotification blocks until a notification arrives, ctx is
	// cancelled or the connection is lost.
	WaitForNotification(ctx context.Context) (*Notification, error)

	// Ping checks that the connection is healthy.
	Ping(ctx context.Context) error

	// Close releases the connection. A closed listener cannot be reused.
	Close(ctx context.Context) error
}

// Notifier sends NOTIFY through any pooled connection.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// ChannelEvents carries path and message change events as JSON payloads.
const ChannelEvents = "convpath_events"
