package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockBroadcaster records broadcasts and feeds payloads from incoming.
type mockBroadcaster struct {
	mu           sync.Mutex
	sent         [][]byte
	broadcastErr error

	incoming    chan []byte
	receiveErr  error
	receiveRuns atomic.Int32
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{incoming: make(chan []byte, 10)}
}

func (m *mockBroadcaster) Name() string { return "mock" }

func (m *mockBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	if m.broadcastErr != nil {
		return m.broadcastErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockBroadcaster) Receive(ctx context.Context, fn func(payload []byte)) error {
	if m.receiveRuns.Add(1) == 1 && m.receiveErr != nil {
		return m.receiveErr
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-m.incoming:
			fn(p)
		}
	}
}

func (m *mockBroadcaster) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotifier_StartStop(t *testing.T) {
	n := New(nil)
	ctx := context.Background()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !n.IsRunning() {
		t.Error("Expected notifier to be running")
	}
	if err := n.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n.IsRunning() {
		t.Error("Expected notifier to not be running")
	}
}

func TestNotifier_StopNotStarted(t *testing.T) {
	n := New(nil)
	if err := n.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestNotifier_PublishDispatchesLocally(t *testing.T) {
	n := New(nil)

	var byKind, byConv, other []*Event
	n.Subscribe(EventPathChanged, func(e *Event) { byKind = append(byKind, e) })
	n.SubscribeConversation("conv-1", func(e *Event) { byConv = append(byConv, e) })
	n.SubscribeConversation("conv-2", func(e *Event) { other = append(other, e) })

	ctx := context.Background()
	if err := n.Publish(ctx, &Event{Kind: EventPathChanged, ConversationID: "conv-1", PathID: "p"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := n.Publish(ctx, &Event{Kind: EventMessagesChanged, ConversationID: "conv-1", PathID: "p"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(byKind) != 1 {
		t.Errorf("kind subscriber got %d events, want 1", len(byKind))
	}
	if len(byConv) != 2 {
		t.Errorf("conversation subscriber got %d events, want 2", len(byConv))
	}
	if len(other) != 0 {
		t.Errorf("other conversation got %d events, want 0", len(other))
	}
	if byConv[0].Origin != n.InstanceID() {
		t.Errorf("Origin = %q, want %q", byConv[0].Origin, n.InstanceID())
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := New(nil)

	var count int
	unsubscribe := n.SubscribeConversation("conv-1", func(*Event) { count++ })
	event := &Event{Kind: EventMessagesChanged, ConversationID: "conv-1"}

	_ = n.Publish(context.Background(), event)
	unsubscribe()
	unsubscribe()
	_ = n.Publish(context.Background(), event)

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
}

func TestNotifier_PublishRejectsEmptyKind(t *testing.T) {
	n := New(nil)
	if err := n.Publish(context.Background(), &Event{ConversationID: "c"}); err != ErrUnknownEventType {
		t.Fatalf("Publish() error = %v, want %v", err, ErrUnknownEventType)
	}
}

func TestNotifier_PublishBroadcasts(t *testing.T) {
	b := newMockBroadcaster()
	n := New(&Config{InstanceID: "self"}, b)

	err := n.Publish(context.Background(), &Event{Kind: EventCompactionCompleted, ConversationID: "c", PathID: "p", MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if b.sentCount() != 1 {
		t.Fatalf("broadcast %d payloads, want 1", b.sentCount())
	}

	var decoded map[string]any
	if err := json.Unmarshal(b.sent[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["kind"] != "compaction_completed" || decoded["conversation_id"] != "c" || decoded["origin"] != "self" {
		t.Errorf("unexpected payload %s", b.sent[0])
	}
}

func TestNotifier_BroadcastFailureStillDispatches(t *testing.T) {
	b := newMockBroadcaster()
	b.broadcastErr = errors.New("connection refused")
	n := New(nil, b)

	var got int
	n.Subscribe(EventPathChanged, func(*Event) { got++ })

	err := n.Publish(context.Background(), &Event{Kind: EventPathChanged, ConversationID: "c"})
	if !errors.Is(err, b.broadcastErr) {
		t.Fatalf("Publish() error = %v, want %v", err, b.broadcastErr)
	}
	if got != 1 {
		t.Errorf("local handler called %d times, want 1", got)
	}
}

func TestNotifier_ReceivesRemoteEvents(t *testing.T) {
	b := newMockBroadcaster()
	n := New(&Config{InstanceID: "self"}, b)

	var received atomic.Int32
	n.SubscribeConversation("conv-1", func(e *Event) {
		if e.Origin == "self" {
			t.Errorf("own event dispatched twice")
		}
		received.Add(1)
	})

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = n.Stop(ctx) }()

	b.incoming <- []byte(`{"kind":"messages_changed","conversation_id":"conv-1","path_id":"p","origin":"self"}`)
	b.incoming <- []byte(`{"kind":"messages_changed","conversation_id":"conv-1","path_id":"p","origin":"other"}`)

	waitFor(t, func() bool { return received.Load() == 1 })
}

func TestNotifier_ReconnectsAfterReceiveError(t *testing.T) {
	b := newMockBroadcaster()
	b.receiveErr = errors.New("listener lost")

	var errCount, reconnects atomic.Int32
	n := New(&Config{
		ReconnectDelay: 10 * time.Millisecond,
		OnError:        func(error) { errCount.Add(1) },
		OnReconnect:    func(string) { reconnects.Add(1) },
	}, b)

	var received atomic.Int32
	n.Subscribe(EventPathChanged, func(*Event) { received.Add(1) })

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = n.Stop(ctx) }()

	waitFor(t, func() bool { return b.receiveRuns.Load() >= 2 })
	b.incoming <- []byte(`{"kind":"path_changed","conversation_id":"c","origin":"other"}`)
	waitFor(t, func() bool { return received.Load() == 1 })

	if errCount.Load() != 1 {
		t.Errorf("OnError called %d times, want 1", errCount.Load())
	}
	if reconnects.Load() != 1 {
		t.Errorf("OnReconnect called %d times, want 1", reconnects.Load())
	}
}

func TestNotifier_BadPayloadReportsError(t *testing.T) {
	b := newMockBroadcaster()
	var errCount atomic.Int32
	n := New(&Config{OnError: func(error) { errCount.Add(1) }}, b)

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = n.Stop(ctx) }()

	b.incoming <- []byte(`not json`)
	waitFor(t, func() bool { return errCount.Load() == 1 })
}
