// Package notifier delivers path and message change events.
//
// Events are dispatched synchronously to in-process subscribers and then
// forwarded to every configured Broadcaster so other instances can push
// them to their own subscribers:
//   - PostgresBroadcaster uses LISTEN/NOTIFY through a driver.Driver
//   - RedisBroadcaster uses Redis pub/sub
//
// Each broadcaster's receive loop reconnects after failures. Events an
// instance published itself are recognised by their origin and not
// dispatched twice.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of a change event.
type EventKind string

const (
	// EventPathChanged is sent when a path is created or the active path moves.
	EventPathChanged EventKind = "path_changed"

	// EventMessagesChanged is sent when messages are appended, pinned or superseded.
	EventMessagesChanged EventKind = "messages_changed"

	// EventCompactionCompleted is sent after a path was compacted.
	EventCompactionCompleted EventKind = "compaction_completed"
)

// Event is the payload pushed to clients.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	PathID         string    `json:"path_id,omitempty"`
	MessageIDs     []string  `json:"message_ids,omitempty"`

	// Origin is the instance that published the event.
	Origin string `json:"origin,omitempty"`

	// ReceivedAt is when this instance dispatched the event.
	ReceivedAt time.Time `json:"-"`
}

// Handler is called when an event is received.
type Handler func(event *Event)

// Broadcaster carries encoded events between instances.
type Broadcaster interface {
	// Name identifies the broadcaster in errors.
	Name() string

	// Broadcast sends an encoded event to every instance.
	Broadcast(ctx context.Context, payload []byte) error

	// Receive blocks, passing remote payloads to fn, until ctx is done or
	// the connection fails.
	Receive(ctx context.Context, fn func(payload []byte)) error
}

// Config holds configuration for the notifier.
type Config struct {
	// InstanceID marks events published by this process.
	// Default: a random UUID
	InstanceID string

	// ReconnectDelay is how long to wait before reconnecting after a disconnect.
	// Default: 5 seconds
	ReconnectDelay time.Duration

	// OnError is called when a receive loop fails or a payload cannot be decoded.
	OnError func(err error)

	// OnReconnect is called before a receive loop reconnects.
	OnReconnect func(broadcaster string)
}

// DefaultReconnectDelay is the wait between receive loop reconnects.
const DefaultReconnectDelay = 5 * time.Second

type subscription struct {
	id             int64
	kind           EventKind
	conversationID string
	handler        Handler
}

func (s *subscription) matches(event *Event) bool {
	if s.kind != "" && s.kind != event.Kind {
		return false
	}
	return s.conversationID == "" || s.conversationID == event.ConversationID
}

// Notifier publishes and dispatches change events.
type Notifier struct {
	broadcasters []Broadcaster
	config       Config

	mu            sync.RWMutex
	subscriptions []*subscription
	nextSubID     int64

	started atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a notifier forwarding to broadcasters. With none it only
// dispatches in-process.
func New(config *Config, broadcasters ...Broadcaster) *Notifier {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	return &Notifier{
		broadcasters: broadcasters,
		config:       cfg,
	}
}

// InstanceID returns the origin stamped on published events.
func (n *Notifier) InstanceID() string {
	return n.config.InstanceID
}

// Start runs one receive loop per broadcaster.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, n.cancel = context.WithCancel(ctx)
	for _, b := range n.broadcasters {
		n.wg.Add(1)
		go func(b Broadcaster) {
			defer n.wg.Done()
			n.run(ctx, b)
		}(b)
	}

	return nil
}

// Stop stops the receive loops and waits for them to exit.
func (n *Notifier) Stop(ctx context.Context) error {
	if !n.started.Load() {
		return ErrNotStarted
	}

	n.cancel()
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.started.Store(false)
	return nil
}

// IsRunning returns true if the notifier is running.
func (n *Notifier) IsRunning() bool {
	return n.started.Load()
}

// Subscribe registers a handler for one event kind across all conversations.
// Returns a function to unsubscribe.
func (n *Notifier) Subscribe(kind EventKind, handler Handler) func() {
	return n.subscribe(&subscription{kind: kind, handler: handler})
}

// SubscribeConversation registers a handler for every event of one
// conversation. Returns a function to unsubscribe.
func (n *Notifier) SubscribeConversation(conversationID string, handler Handler) func() {
	return n.subscribe(&subscription{conversationID: conversationID, handler: handler})
}

func (n *Notifier) subscribe(sub *subscription) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub.id = n.nextSubID
	n.nextSubID++
	n.subscriptions = append(n.subscriptions, sub)

	var once sync.Once
	return func() {
		once.Do(func() { n.unsubscribe(sub.id) })
	}
}

func (n *Notifier) unsubscribe(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subscriptions {
		if sub.id == id {
			n.subscriptions = append(n.subscriptions[:i], n.subscriptions[i+1:]...)
			return
		}
	}
}

// Publish dispatches event locally and forwards it to every broadcaster.
// Local delivery always happens; broadcast failures are joined into the
// returned error.
func (n *Notifier) Publish(ctx context.Context, event *Event) error {
	if event.Kind == "" {
		return ErrUnknownEventType
	}
	event.Origin = n.config.InstanceID

	n.dispatch(event)
	if len(n.broadcasters) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	var errs []error
	for _, b := range n.broadcasters {
		if err := b.Broadcast(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s broadcast failed: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// run keeps one broadcaster's receive loop alive until ctx is done.
func (n *Notifier) run(ctx context.Context, b Broadcaster) {
	for {
		err := b.Receive(ctx, n.receive)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			n.reportError(fmt.Errorf("%s receive failed: %w", b.Name(), err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.config.ReconnectDelay):
			if n.config.OnReconnect != nil {
				n.config.OnReconnect(b.Name())
			}
		}
	}
}

// receive decodes a remote payload and dispatches it unless it is ours.
func (n *Notifier) receive(payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		n.reportError(fmt.Errorf("failed to decode event: %w", err))
		return
	}
	if event.Origin == n.config.InstanceID {
		return
	}
	n.dispatch(&event)
}

// dispatch sends an event to all matching handlers.
func (n *Notifier) dispatch(event *Event) {
	event.ReceivedAt = time.Now()

	n.mu.RLock()
	subs := make([]*subscription, 0, len(n.subscriptions))
	for _, sub := range n.subscriptions {
		if sub.matches(event) {
			subs = append(subs, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		// Call handlers synchronously to maintain ordering
		sub.handler(event)
	}
}

func (n *Notifier) reportError(err error) {
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
}
