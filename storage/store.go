// Package storage persists conversations, paths, messages and compaction
// snapshots.
//
// Two implementations are provided: PostgresStore, which runs on any
// driver.Driver (pgx/v5 or database/sql), and MemoryStore for tests and
// embedded use. Both honour transactions started with RunInTx: every store
// method called with the context passed to fn joins that transaction.
package storage

import (
	"context"
	"time"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Store defines the persistence contract for the path graph.
type Store interface {
	// RunInTx runs fn inside one transaction. The transaction commits when
	// fn returns nil and rolls back otherwise. Nested calls join the outer
	// transaction through a savepoint.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Conversation operations
	CreateConversation(ctx context.Context, conv *types.Conversation) error
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	ListConversations(ctx context.Context, params ListConversationsParams) ([]*types.Conversation, error)
	// SetActivePath moves the pointer in one statement. It fails with
	// types.ErrNotFound when the path does not belong to the conversation.
	SetActivePath(ctx context.Context, conversationID, pathID string) error

	// Path operations
	CreatePath(ctx context.Context, path *types.Path) error
	GetPath(ctx context.Context, id string) (*types.Path, error)
	ListPaths(ctx context.Context, conversationID string) ([]*types.Path, error)
	GetPrimaryPath(ctx context.Context, conversationID string) (*types.Path, error)
	// LockPath serializes writers of one path until the surrounding
	// transaction ends. It must be called inside RunInTx.
	LockPath(ctx context.Context, pathID string) error

	// Message operations
	InsertMessages(ctx context.Context, messages []*types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	ListMessages(ctx context.Context, pathID string, params ListMessagesParams) ([]*types.Message, error)
	// CountMessages counts every row on the path, superseded ones included.
	CountMessages(ctx context.Context, pathID string) (int, error)
	MarkBranchPoint(ctx context.Context, messageID, branchPathID string) error
	MarkSuperseded(ctx context.Context, messageID, supersededBy string, at time.Time) error
	SetPinned(ctx context.Context, messageID string, pinned bool) error
	// ReplacePathMessages makes messages the complete sequence of the path:
	// rows not listed are deleted, listed rows that do not exist yet are
	// inserted, and every row is renumbered to its index in messages.
	ReplacePathMessages(ctx context.Context, pathID string, messages []*types.Message) error

	// Compaction snapshots
	CreateSnapshot(ctx context.Context, snap *types.CompactionSnapshot) error
	GetSnapshot(ctx context.Context, id string) (*types.CompactionSnapshot, error)
	ListSnapshots(ctx context.Context, pathID string) ([]*types.CompactionSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)

	// Leader election
	LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error)
	LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error)
	LeaderResign(ctx context.Context, leaderID string) error
}

// ListConversationsParams filters and pages ListConversations.
// Results are ordered by id so offsets are stable across pages.
type ListConversationsParams struct {
	TenantID     string
	UpdatedSince time.Time
	Limit        int
	Offset       int
}

// ListMessagesParams controls ListMessages.
type ListMessagesParams struct {
	// IncludeSuperseded returns the full edit chain instead of the visible transcript.
	IncludeSuperseded bool

	// MaxSequence, when set, limits the result to SequenceInPath <= *MaxSequence.
	MaxSequence *int
}

// LeaderElectParams contains parameters for leader election.
type LeaderElectParams struct {
	LeaderID string
	TTL      time.Duration
}
