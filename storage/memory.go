package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// MemoryStore is an in-process Store. Transactions work on a private copy of
// the state that replaces the shared state on commit, so a failed fn leaves
// nothing behind. Readers outside a transaction see the last committed state.
//
// Writers are serialized store-wide, not per path: a transaction on one path
// blocks writes to every other path until it commits. MemoryStore is meant
// for tests and single-process embedding with little write concurrency; use
// PostgresStore when writes to different paths must proceed in parallel.
type MemoryStore struct {
	mu          sync.RWMutex
	state       *memState
	writer      *semaphore.Weighted
	lockTimeout time.Duration
}

type memState struct {
	conversations map[string]*types.Conversation
	paths         map[string]*types.Path
	messages      map[string]*types.Message
	snapshots     map[string]*types.CompactionSnapshot
	leaderID      string
	leaderExpires time.Time
}

type memTxKey struct{}

type memTx struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store. lockTimeout bounds how
// long a writer waits for the current transaction; zero means
// DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		state:       newMemState(),
		writer:      semaphore.NewWeighted(1),
		lockTimeout: lockTimeout,
	}
}

func newMemState() *memState {
	return &memState{
		conversations: make(map[string]*types.Conversation),
		paths:         make(map[string]*types.Path),
		messages:      make(map[string]*types.Message),
		snapshots:     make(map[string]*types.CompactionSnapshot),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for id, v := range st.conversations {
		c.conversations[id] = v.Clone()
	}
	for id, v := range st.paths {
		c.paths[id] = v.Clone()
	}
	for id, v := range st.messages {
		c.messages[id] = v.Clone()
	}
	for id, v := range st.snapshots {
		c.snapshots[id] = cloneSnapshot(v)
	}
	c.leaderID = st.leaderID
	c.leaderExpires = st.leaderExpires
	return c
}

func (s *MemoryStore) acquireWriter(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.writer.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.Conflict("acquire write lock", "", "", errors.New("lock timeout"))
	}
	return nil
}

// read runs fn against the transaction state in ctx or the committed state.
func (s *MemoryStore) read(ctx context.Context, fn func(st *memState) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return fn(tx.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write runs fn against the transaction state in ctx, or as its own
// single-statement transaction.
func (s *MemoryStore) write(ctx context.Context, fn func(st *memState) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return fn(tx.state)
	}
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.writer.Release(1)

	s.mu.RLock()
	next := s.state.clone()
	s.mu.RUnlock()

	if err := fn(next); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return nil
}

// RunInTx runs fn against a private copy of the state.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if parent, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		parent.mu.Lock()
		child := &memTx{state: parent.state.clone()}
		parent.mu.Unlock()

		if err := fn(context.WithValue(ctx, memTxKey{}, child)); err != nil {
			return err
		}

		parent.mu.Lock()
		parent.state = child.state
		parent.mu.Unlock()
		return nil
	}

	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.writer.Release(1)

	s.mu.RLock()
	tx := &memTx{state: s.state.clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

// =============================================================================
// Conversations
// =============================================================================

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	return s.write(ctx, func(st *memState) error {
		if _, ok := st.conversations[conv.ID]; ok {
			return types.Conflict("create conversation", "conversation", conv.ID, errors.New("duplicate id"))
		}
		conv.UpdatedAt = conv.CreatedAt
		st.conversations[conv.ID] = conv.Clone()
		return nil
	})
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var out *types.Conversation
	err := s.read(ctx, func(st *memState) error {
		conv, ok := st.conversations[id]
		if !ok {
			return types.NotFound("get conversation", "conversation", id)
		}
		out = conv.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListConversations(ctx context.Context, params ListConversationsParams) ([]*types.Conversation, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*types.Conversation
	err := s.read(ctx, func(st *memState) error {
		all := make([]*types.Conversation, 0, len(st.conversations))
		for _, conv := range st.conversations {
			if params.TenantID != "" && conv.TenantID != params.TenantID {
				continue
			}
			if conv.UpdatedAt.Before(params.UpdatedSince) {
				continue
			}
			all = append(all, conv)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

		for i := params.Offset; i < len(all) && len(out) < limit; i++ {
			out = append(out, all[i].Clone())
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) SetActivePath(ctx context.Context, conversationID, pathID string) error {
	return s.write(ctx, func(st *memState) error {
		conv, ok := st.conversations[conversationID]
		if !ok {
			return types.NotFound("set active path", "conversation", conversationID)
		}
		path, ok := st.paths[pathID]
		if !ok || path.ConversationID != conversationID {
			return types.NotFound("set active path", "path", pathID)
		}
		conv.ActivePathID = types.StringPtr(pathID)
		conv.UpdatedAt = time.Now()
		return nil
	})
}

// =============================================================================
// Paths
// =============================================================================

func (s *MemoryStore) CreatePath(ctx context.Context, path *types.Path) error {
	return s.write(ctx, func(st *memState) error {
		if _, ok := st.conversations[path.ConversationID]; !ok {
			return types.NotFound("create path", "conversation", path.ConversationID)
		}
		if _, ok := st.paths[path.ID]; ok {
			return types.Conflict("create path", "path", path.ID, errors.New("duplicate id"))
		}
		if path.IsPrimary {
			for _, p := range st.paths {
				if p.ConversationID == path.ConversationID && p.IsPrimary {
					return types.Conflict("create path", "path", path.ID, errors.New("conversation already has a primary path"))
				}
			}
		}
		if path.ParentPathID != nil {
			if _, ok := st.paths[*path.ParentPathID]; !ok {
				return types.NotFound("create path", "path", *path.ParentPathID)
			}
		}
		path.UpdatedAt = path.CreatedAt
		st.paths[path.ID] = path.Clone()
		return nil
	})
}

func (s *MemoryStore) GetPath(ctx context.Context, id string) (*types.Path, error) {
	var out *types.Path
	err := s.read(ctx, func(st *memState) error {
		path, ok := st.paths[id]
		if !ok {
			return types.NotFound("get path", "path", id)
		}
		out = path.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListPaths(ctx context.Context, conversationID string) ([]*types.Path, error) {
	var out []*types.Path
	err := s.read(ctx, func(st *memState) error {
		for _, path := range st.paths {
			if path.ConversationID == conversationID {
				out = append(out, path.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *MemoryStore) GetPrimaryPath(ctx context.Context, conversationID string) (*types.Path, error) {
	var out *types.Path
	err := s.read(ctx, func(st *memState) error {
		for _, path := range st.paths {
			if path.ConversationID == conversationID && path.IsPrimary {
				out = path.Clone()
				return nil
			}
		}
		return types.NotFound("get primary path", "conversation", conversationID)
	})
	return out, err
}

// LockPath only checks the path exists: a MemoryStore transaction already
// excludes every other writer.
func (s *MemoryStore) LockPath(ctx context.Context, pathID string) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); !ok {
		return ErrTxRequired
	}
	return s.read(ctx, func(st *memState) error {
		if _, ok := st.paths[pathID]; !ok {
			return types.NotFound("lock path", "path", pathID)
		}
		return nil
	})
}

// =============================================================================
// Messages
// =============================================================================

func (s *MemoryStore) InsertMessages(ctx context.Context, messages []*types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return s.write(ctx, func(st *memState) error {
		return insertMessages(st, messages)
	})
}

func insertMessages(st *memState, messages []*types.Message) error {
	for _, msg := range messages {
		if _, ok := st.paths[msg.PathID]; !ok {
			return types.NotFound("insert messages", "path", msg.PathID)
		}
		if _, ok := st.messages[msg.ID]; ok {
			return types.Conflict("insert messages", "message", msg.ID, errors.New("duplicate id"))
		}
		for _, existing := range st.messages {
			if existing.PathID == msg.PathID && existing.SequenceInPath == msg.SequenceInPath {
				return types.Conflict("insert messages", "path", msg.PathID, errors.New("duplicate sequence"))
			}
		}
		st.messages[msg.ID] = msg.Clone()
	}
	if conv, ok := st.conversations[messages[0].ConversationID]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	var out *types.Message
	err := s.read(ctx, func(st *memState) error {
		msg, ok := st.messages[id]
		if !ok {
			return types.NotFound("get message", "message", id)
		}
		out = msg.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListMessages(ctx context.Context, pathID string, params ListMessagesParams) ([]*types.Message, error) {
	var out []*types.Message
	err := s.read(ctx, func(st *memState) error {
		for _, msg := range st.messages {
			if msg.PathID != pathID {
				continue
			}
			if !params.IncludeSuperseded && msg.IsSuperseded() {
				continue
			}
			if params.MaxSequence != nil && msg.SequenceInPath > *params.MaxSequence {
				continue
			}
			out = append(out, msg.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceInPath < out[j].SequenceInPath })
	return out, err
}

func (s *MemoryStore) CountMessages(ctx context.Context, pathID string) (int, error) {
	var count int
	err := s.read(ctx, func(st *memState) error {
		for _, msg := range st.messages {
			if msg.PathID == pathID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *MemoryStore) MarkBranchPoint(ctx context.Context, messageID, branchPathID string) error {
	return s.write(ctx, func(st *memState) error {
		msg, ok := st.messages[messageID]
		if !ok {
			return types.NotFound("mark branch point", "message", messageID)
		}
		msg.IsBranchPoint = true
		for _, id := range msg.BranchedToPaths {
			if id == branchPathID {
				return nil
			}
		}
		msg.BranchedToPaths = append(msg.BranchedToPaths, branchPathID)
		return nil
	})
}

func (s *MemoryStore) MarkSuperseded(ctx context.Context, messageID, supersededBy string, at time.Time) error {
	return s.write(ctx, func(st *memState) error {
		msg, ok := st.messages[messageID]
		if !ok {
			return types.NotFound("mark superseded", "message", messageID)
		}
		msg.SupersededBy = types.StringPtr(supersededBy)
		msg.DeletedAt = &at
		return nil
	})
}

func (s *MemoryStore) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	return s.write(ctx, func(st *memState) error {
		msg, ok := st.messages[messageID]
		if !ok {
			return types.NotFound("set pinned", "message", messageID)
		}
		msg.Pinned = pinned
		return nil
	})
}

func (s *MemoryStore) ReplacePathMessages(ctx context.Context, pathID string, messages []*types.Message) error {
	return s.write(ctx, func(st *memState) error {
		if _, ok := st.paths[pathID]; !ok {
			return types.NotFound("replace path messages", "path", pathID)
		}

		keep := make(map[string]bool, len(messages))
		for _, msg := range messages {
			keep[msg.ID] = true
		}
		for id, msg := range st.messages {
			if msg.PathID == pathID && !keep[id] && msg.IsProtected() {
				return types.Conflict("replace path messages", "message", id, ErrProtectedMessage)
			}
		}
		for id, msg := range st.messages {
			if msg.PathID == pathID && !keep[id] {
				delete(st.messages, id)
			}
		}

		for i, msg := range messages {
			msg.SequenceInPath = i
			msg.PathID = pathID
			if existing, ok := st.messages[msg.ID]; ok {
				existing.SequenceInPath = i
				continue
			}
			st.messages[msg.ID] = msg.Clone()
		}
		return nil
	})
}

// =============================================================================
// Compaction snapshots
// =============================================================================

func (s *MemoryStore) CreateSnapshot(ctx context.Context, snap *types.CompactionSnapshot) error {
	return s.write(ctx, func(st *memState) error {
		if _, ok := st.paths[snap.PathID]; !ok {
			return types.NotFound("create snapshot", "path", snap.PathID)
		}
		if _, ok := st.snapshots[snap.ID]; ok {
			return types.Conflict("create snapshot", "snapshot", snap.ID, errors.New("duplicate id"))
		}
		st.snapshots[snap.ID] = cloneSnapshot(snap)
		return nil
	})
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*types.CompactionSnapshot, error) {
	var out *types.CompactionSnapshot
	err := s.read(ctx, func(st *memState) error {
		snap, ok := st.snapshots[id]
		if !ok {
			return types.NotFound("get snapshot", "snapshot", id)
		}
		out = cloneSnapshot(snap)
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, pathID string) ([]*types.CompactionSnapshot, error) {
	var out []*types.CompactionSnapshot
	err := s.read(ctx, func(st *memState) error {
		for _, snap := range st.snapshots {
			if snap.PathID == pathID {
				out = append(out, cloneSnapshot(snap))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *MemoryStore) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(st *memState) error {
		for id, snap := range st.snapshots {
			if snap.CreatedAt.Before(before) {
				delete(st.snapshots, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// =============================================================================
// Leader election
// =============================================================================

func (s *MemoryStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	var elected bool
	err := s.write(ctx, func(st *memState) error {
		now := time.Now()
		if st.leaderID == "" || st.leaderExpires.Before(now) || st.leaderID == params.LeaderID {
			st.leaderID = params.LeaderID
			st.leaderExpires = now.Add(params.TTL)
			elected = true
		}
		return nil
	})
	return elected, err
}

func (s *MemoryStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	var elected bool
	err := s.write(ctx, func(st *memState) error {
		now := time.Now()
		if st.leaderID == params.LeaderID && !st.leaderExpires.Before(now) {
			st.leaderExpires = now.Add(params.TTL)
			elected = true
		}
		return nil
	})
	return elected, err
}

func (s *MemoryStore) LeaderResign(ctx context.Context, leaderID string) error {
	return s.write(ctx, func(st *memState) error {
		if st.leaderID == leaderID {
			st.leaderID = ""
			st.leaderExpires = time.Time{}
		}
		return nil
	})
}

func cloneSnapshot(s *types.CompactionSnapshot) *types.CompactionSnapshot {
	c := *s
	c.RemovedMessages = append([]types.SnapshotMessage(nil), s.RemovedMessages...)
	c.RetainedMessages = append([]types.SnapshotRef(nil), s.RetainedMessages...)
	c.SummaryMessageIDs = append([]string(nil), s.SummaryMessageIDs...)
	return &c
}

// Compile-time check
var _ Store = (*MemoryStore)(nil)
