package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/testutil"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"ConversationLifecycle", testConversationLifecycle},
		{"ListConversations", testListConversations},
		{"SetActivePathRejectsForeignPath", testSetActivePathRejectsForeignPath},
		{"SinglePrimaryPath", testSinglePrimaryPath},
		{"MessagesOrderedBySequence", testMessagesOrderedBySequence},
		{"DuplicateSequenceConflicts", testDuplicateSequenceConflicts},
		{"SupersededHiddenByDefault", testSupersededHiddenByDefault},
		{"MarkBranchPointIsIdempotent", testMarkBranchPointIsIdempotent},
		{"ReplacePathMessages", testReplacePathMessages},
		{"ReplacePathMessagesKeepsProtectedRows", testReplacePathMessagesKeepsProtectedRows},
		{"RunInTxRollsBack", testRunInTxRollsBack},
		{"NestedTxRollsBackInner", testNestedTxRollsBackInner},
		{"LockPathRequiresTx", testLockPathRequiresTx},
		{"Snapshots", testSnapshots},
		{"LeaderElection", testLeaderElection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemoryStore(time.Second)
	})
}

func TestMemoryStore_WritersAreSerializedAcrossPaths(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	_, first, _ := seedConversation(t, s, 0)
	_, second, _ := seedConversation(t, s, 0)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.LockPath(ctx, first.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.LockPath(ctx, second.ID)
	})
	require.ErrorIs(t, err, types.ErrConcurrencyConflict)

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
		return s.LockPath(ctx, second.ID)
	}))
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// seedConversation creates a conversation with a primary path holding n messages.
func seedConversation(t *testing.T, s Store, n int) (*types.Conversation, *types.Path, []*types.Message) {
	t.Helper()
	ctx := context.Background()

	conv := &types.Conversation{ID: testutil.ID("conv"), TenantID: "tenant-1", CreatedAt: now()}
	require.NoError(t, s.CreateConversation(ctx, conv))

	path := &types.Path{ID: testutil.ID("path"), ConversationID: conv.ID, Name: "main", IsPrimary: true, CreatedAt: now()}
	require.NoError(t, s.CreatePath(ctx, path))
	require.NoError(t, s.SetActivePath(ctx, conv.ID, path.ID))

	msgs := make([]*types.Message, n)
	for i := range msgs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs[i] = &types.Message{
			ID:             testutil.ID("msg"),
			ConversationID: conv.ID,
			PathID:         path.ID,
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			SequenceInPath: i,
			CreatedAt:      now(),
		}
	}
	require.NoError(t, s.InsertMessages(ctx, msgs))
	return conv, path, msgs
}

func testConversationLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	conv, path, _ := seedConversation(t, s, 0)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActivePathID)
	assert.Equal(t, path.ID, *got.ActivePathID)
	assert.Equal(t, "tenant-1", got.TenantID)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	primary, err := s.GetPrimaryPath(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, path.ID, primary.ID)
}

func testListConversations(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tenant := "tenant-a"
		if i%2 == 1 {
			tenant = "tenant-b"
		}
		require.NoError(t, s.CreateConversation(ctx, &types.Conversation{
			ID: fmt.Sprintf("list-%d-%s", i, testutil.ID("c")), TenantID: tenant, CreatedAt: now(),
		}))
	}

	page1, err := s.ListConversations(ctx, ListConversationsParams{TenantID: "tenant-a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.ListConversations(ctx, ListConversationsParams{TenantID: "tenant-a", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Less(t, page1[1].ID, page2[0].ID)

	future, err := s.ListConversations(ctx, ListConversationsParams{UpdatedSince: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func testSetActivePathRejectsForeignPath(t *testing.T, s Store) {
	ctx := context.Background()
	convA, pathA, _ := seedConversation(t, s, 0)
	_, pathB, _ := seedConversation(t, s, 0)

	err := s.SetActivePath(ctx, convA.ID, pathB.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := s.GetConversation(ctx, convA.ID)
	require.NoError(t, err)
	assert.Equal(t, pathA.ID, *got.ActivePathID)
}

func testSinglePrimaryPath(t *testing.T, s Store) {
	ctx := context.Background()
	conv, _, _ := seedConversation(t, s, 0)

	err := s.CreatePath(ctx, &types.Path{
		ID: testutil.ID("path"), ConversationID: conv.ID, Name: "second", IsPrimary: true, CreatedAt: now(),
	})
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)
}

func testMessagesOrderedBySequence(t *testing.T, s Store) {
	ctx := context.Background()
	_, path, msgs := seedConversation(t, s, 4)

	got, err := s.ListMessages(ctx, path.ID, ListMessagesParams{})
	require.NoError(t, err)
	assert.Equal(t, types.MessageIDs(msgs), types.MessageIDs(got))

	maxSeq := 1
	prefix, err := s.ListMessages(ctx, path.ID, ListMessagesParams{MaxSequence: &maxSeq})
	require.NoError(t, err)
	assert.Equal(t, types.MessageIDs(msgs[:2]), types.MessageIDs(prefix))

	count, err := s.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func testDuplicateSequenceConflicts(t *testing.T, s Store) {
	ctx := context.Background()
	conv, path, _ := seedConversation(t, s, 2)

	err := s.InsertMessages(ctx, []*types.Message{{
		ID: testutil.ID("msg"), ConversationID: conv.ID, PathID: path.ID,
		Role: types.RoleUser, Content: "dup", SequenceInPath: 1, CreatedAt: now(),
	}})
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)

	count, err := s.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func testSupersededHiddenByDefault(t *testing.T, s Store) {
	ctx := context.Background()
	_, path, msgs := seedConversation(t, s, 3)

	require.NoError(t, s.MarkSuperseded(ctx, msgs[1].ID, msgs[2].ID, now()))

	visible, err := s.ListMessages(ctx, path.ID, ListMessagesParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{msgs[0].ID, msgs[2].ID}, types.MessageIDs(visible))

	all, err := s.ListMessages(ctx, path.ID, ListMessagesParams{IncludeSuperseded: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NotNil(t, all[1].SupersededBy)
	assert.Equal(t, msgs[2].ID, *all[1].SupersededBy)

	err = s.MarkSuperseded(ctx, "missing", msgs[2].ID, now())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testMarkBranchPointIsIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	_, _, msgs := seedConversation(t, s, 1)

	require.NoError(t, s.MarkBranchPoint(ctx, msgs[0].ID, "branch-1"))
	require.NoError(t, s.MarkBranchPoint(ctx, msgs[0].ID, "branch-1"))
	require.NoError(t, s.MarkBranchPoint(ctx, msgs[0].ID, "branch-2"))

	got, err := s.GetMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	assert.True(t, got.IsBranchPoint)
	assert.Equal(t, []string{"branch-1", "branch-2"}, got.BranchedToPaths)
}

func testReplacePathMessages(t *testing.T, s Store) {
	ctx := context.Background()
	conv, path, msgs := seedConversation(t, s, 5)

	summary := &types.Message{
		ID: testutil.ID("summary"), ConversationID: conv.ID, PathID: path.ID,
		Role: types.RoleSystem, Content: "summary of 0-2",
		Metadata:  map[string]any{types.MetadataCompactionSummary: true},
		CreatedAt: now(),
	}
	next := []*types.Message{summary, msgs[3], msgs[4]}

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.ReplacePathMessages(ctx, path.ID, next)
	})
	require.NoError(t, err)

	got, err := s.ListMessages(ctx, path.ID, ListMessagesParams{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{summary.ID, msgs[3].ID, msgs[4].ID}, types.MessageIDs(got))
	for i, m := range got {
		assert.Equal(t, i, m.SequenceInPath)
	}
	assert.True(t, got[0].IsSummary())
	assert.Equal(t, "message 3", got[1].Content)

	_, err = s.GetMessage(ctx, msgs[0].ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testReplacePathMessagesKeepsProtectedRows(t *testing.T, s Store) {
	ctx := context.Background()
	_, path, msgs := seedConversation(t, s, 4)
	require.NoError(t, s.SetPinned(ctx, msgs[1].ID, true))
	require.NoError(t, s.MarkBranchPoint(ctx, msgs[2].ID, "branch-1"))

	for _, dropped := range []*types.Message{msgs[1], msgs[2]} {
		var next []*types.Message
		for _, m := range msgs {
			if m.ID != dropped.ID {
				next = append(next, m)
			}
		}
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			return s.ReplacePathMessages(ctx, path.ID, next)
		})
		require.ErrorIs(t, err, types.ErrConcurrencyConflict)
		assert.ErrorIs(t, err, ErrProtectedMessage)
	}

	got, err := s.ListMessages(ctx, path.ID, ListMessagesParams{})
	require.NoError(t, err)
	assert.Equal(t, types.MessageIDs(msgs), types.MessageIDs(got))
	for i, m := range got {
		assert.Equal(t, i, m.SequenceInPath)
	}
}

func testRunInTxRollsBack(t *testing.T, s Store) {
	ctx := context.Background()
	conv, path, _ := seedConversation(t, s, 1)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.InsertMessages(ctx, []*types.Message{{
			ID: testutil.ID("msg"), ConversationID: conv.ID, PathID: path.ID,
			Role: types.RoleUser, Content: "rolled back", SequenceInPath: 1, CreatedAt: now(),
		}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := s.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testNestedTxRollsBackInner(t *testing.T, s Store) {
	ctx := context.Background()
	_, _, msgs := seedConversation(t, s, 1)

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.SetPinned(ctx, msgs[0].ID, true); err != nil {
			return err
		}
		inner := s.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.MarkBranchPoint(ctx, msgs[0].ID, "b"); err != nil {
				return err
			}
			return errors.New("inner failure")
		})
		require.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.False(t, got.IsBranchPoint)
}

func testLockPathRequiresTx(t *testing.T, s Store) {
	ctx := context.Background()
	_, path, _ := seedConversation(t, s, 0)

	assert.ErrorIs(t, s.LockPath(ctx, path.ID), ErrTxRequired)

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.LockPath(ctx, path.ID)
	})
	assert.NoError(t, err)

	err = s.RunInTx(ctx, func(ctx context.Context) error {
		return s.LockPath(ctx, "missing")
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testSnapshots(t *testing.T, s Store) {
	ctx := context.Background()
	conv, path, msgs := seedConversation(t, s, 2)

	old := &types.CompactionSnapshot{
		ID: testutil.ID("snap"), ConversationID: conv.ID, PathID: path.ID,
		Strategy: "sliding_window", Trigger: "manual",
		TokensBefore: 100, TokensAfter: 40,
		RemovedMessages: []types.SnapshotMessage{{
			ID: msgs[0].ID, Role: msgs[0].Role, Content: msgs[0].Content, CreatedAt: msgs[0].CreatedAt,
		}},
		RetainedMessages: []types.SnapshotRef{{ID: msgs[1].ID, OriginalSequence: 1}},
		CreatedAt:        now().Add(-48 * time.Hour),
	}
	recent := &types.CompactionSnapshot{
		ID: testutil.ID("snap"), ConversationID: conv.ID, PathID: path.ID,
		Strategy: "semantic", Trigger: "auto",
		RemovedMessages:   []types.SnapshotMessage{},
		RetainedMessages:  []types.SnapshotRef{},
		SummaryMessageIDs: []string{"s-1"},
		CreatedAt:         now(),
	}
	require.NoError(t, s.CreateSnapshot(ctx, old))
	require.NoError(t, s.CreateSnapshot(ctx, recent))

	got, err := s.GetSnapshot(ctx, old.ID)
	require.NoError(t, err)
	opts := []cmp.Option{cmpopts.EquateApproxTime(time.Millisecond), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(old, got, opts...); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	list, err := s.ListSnapshots(ctx, path.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID)

	n, err := s.DeleteSnapshotsBefore(ctx, now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSnapshot(ctx, old.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testLeaderElection(t *testing.T, s Store) {
	ctx := context.Background()
	params := func(id string) *LeaderElectParams {
		return &LeaderElectParams{LeaderID: id, TTL: time.Minute}
	}

	elected, err := s.LeaderAttemptElect(ctx, params("a"))
	require.NoError(t, err)
	assert.True(t, elected)

	elected, err = s.LeaderAttemptElect(ctx, params("b"))
	require.NoError(t, err)
	assert.False(t, elected)

	elected, err = s.LeaderAttemptReelect(ctx, params("a"))
	require.NoError(t, err)
	assert.True(t, elected)

	elected, err = s.LeaderAttemptReelect(ctx, params("b"))
	require.NoError(t, err)
	assert.False(t, elected)

	require.NoError(t, s.LeaderResign(ctx, "a"))

	elected, err = s.LeaderAttemptElect(ctx, params("b"))
	require.NoError(t, err)
	assert.True(t, elected)
}
