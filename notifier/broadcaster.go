package notifier

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
)

// PostgresBroadcaster sends events with NOTIFY and receives them with LISTEN
// on driver.ChannelEvents.
type PostgresBroadcaster struct {
	drv     driver.Driver
	channel string
}

// NewPostgresBroadcaster creates a broadcaster on the driver's connections.
func NewPostgresBroadcaster(drv driver.Driver) *PostgresBroadcaster {
	return &PostgresBroadcaster{drv: drv, channel: driver.ChannelEvents}
}

func (b *PostgresBroadcaster) Name() string { return "postgres" }

func (b *PostgresBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	return b.drv.GetNotifier().Notify(ctx, b.channel, string(payload))
}

// Receive holds a dedicated LISTEN connection until it fails or ctx is done.
func (b *PostgresBroadcaster) Receive(ctx context.Context, fn func(payload []byte)) error {
	if !b.drv.SupportsListener() {
		<-ctx.Done()
		return ErrListenNotSupported
	}

	listener, err := b.drv.GetListener(ctx)
	if err != nil {
		return fmt.Errorf("failed to get listener: %w", err)
	}
	defer func() { _ = listener.Close(context.WithoutCancel(ctx)) }()

	if err := listener.Listen(ctx, b.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.channel, err)
	}

	for {
		notification, err := listener.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if notification.Channel != b.channel {
			continue
		}
		fn([]byte(notification.Payload))
	}
}

// RedisBroadcaster carries events over Redis pub/sub.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
}

// DefaultRedisChannel is the pub/sub channel used when none is given.
const DefaultRedisChannel = "convpath:events"

// NewRedisBroadcaster creates a broadcaster publishing on channel.
func NewRedisBroadcaster(client redis.UniversalClient, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Name() string { return "redis" }

func (b *RedisBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Receive subscribes to the channel until the subscription closes or ctx is done.
func (b *RedisBroadcaster) Receive(ctx context.Context, fn func(payload []byte)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			fn([]byte(msg.Payload))
		}
	}
}
