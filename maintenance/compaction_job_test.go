package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/retry"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, _, toSummarize []*types.Message) (string, error) {
	return fmt.Sprintf("summary of %d messages", len(toSummarize)), nil
}

func newTestClient(t *testing.T) (*convpath.Client, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(time.Second)
	compactor := compaction.NewWithSummarizer(store, stubSummarizer{}, nil, &compaction.Config{
		Strategy:         compaction.StrategySlidingWindow,
		TokenThreshold:   500,
		TargetTokenRatio: 0.5,
		WindowSize:       4,
		PreserveLastN:    2,
		MinClusterSize:   2,
		ClusterMaxTokens: 400,
		Model:            "test-model",
	}, nil)

	client, err := convpath.New(&convpath.Config{Store: store, Compactor: compactor})
	require.NoError(t, err)
	return client, store
}

// seedConversation creates a conversation whose main path holds n messages of 400 chars.
func seedConversation(t *testing.T, client *convpath.Client, id string, n int) *types.Path {
	t.Helper()
	ctx := context.Background()
	_, path, err := client.CreateConversation(ctx, convpath.CreateConversationParams{ID: id, TenantID: "tenant-1"})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		_, err := client.AppendMessage(ctx, convpath.AppendMessageParams{
			ConversationID: id,
			PathID:         path.ID,
			Role:           role,
			Content:        fmt.Sprintf("%s %d", role, i) + strings.Repeat(".", 390),
		})
		require.NoError(t, err)
	}
	return path
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func countMessages(t *testing.T, store *storage.MemoryStore, pathID string) int {
	t.Helper()
	n, err := store.CountMessages(context.Background(), pathID)
	require.NoError(t, err)
	return n
}

func TestCompactionJob_CompactsLargePaths(t *testing.T) {
	client, store := newTestClient(t)
	bigA := seedConversation(t, client, "conv-a", 10)
	small := seedConversation(t, client, "conv-b", 3)
	bigC := seedConversation(t, client, "conv-c", 10)

	job := NewCompactionJob(client, &JobConfig{BatchSize: 2, CreateSnapshots: true, Retry: fastRetry()}, nil, nil)
	result, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.ProcessedConversations)
	assert.Equal(t, 2, result.CompactedConversations)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Details, 2)
	assert.Equal(t, "conv-a", result.Details[0].ConversationID)
	assert.Equal(t, "conv-c", result.Details[1].ConversationID)
	for _, d := range result.Details {
		assert.True(t, d.Compacted)
		assert.Positive(t, d.MessagesRemoved)
		assert.Less(t, d.TokensAfter, d.TokensBefore)
	}
	assert.Positive(t, result.TotalTokensSaved)
	assert.Equal(t, result.Details[0].MessagesRemoved+result.Details[1].MessagesRemoved, result.TotalMessagesRemoved)

	assert.Less(t, countMessages(t, store, bigA.ID), 10)
	assert.Less(t, countMessages(t, store, bigC.ID), 10)
	assert.Equal(t, 3, countMessages(t, store, small.ID))

	snaps, err := store.ListSnapshots(context.Background(), bigA.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	again, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, again.ProcessedConversations)
	assert.Zero(t, again.CompactedConversations)
	assert.Empty(t, again.Details)
}

func TestCompactionJob_DryRun(t *testing.T) {
	client, store := newTestClient(t)
	path := seedConversation(t, client, "conv-a", 10)

	result, err := RunCompactionJob(context.Background(), client, &JobConfig{DryRun: true, Retry: fastRetry()})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProcessedConversations)
	assert.Equal(t, 1, result.CompactedConversations)
	require.Len(t, result.Details, 1)
	assert.False(t, result.Details[0].Compacted)
	assert.True(t, result.Details[0].DryRun)
	assert.Positive(t, result.Details[0].MessagesRemoved)

	assert.Equal(t, 10, countMessages(t, store, path.ID))
	snaps, err := store.ListSnapshots(context.Background(), path.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestCompactionJob_ThresholdOverride(t *testing.T) {
	client, store := newTestClient(t)
	path := seedConversation(t, client, "conv-a", 10)

	result, err := RunCompactionJob(context.Background(), client, &JobConfig{TokenThreshold: 100000, Retry: fastRetry()})
	require.NoError(t, err)
	assert.Zero(t, result.CompactedConversations)
	assert.Equal(t, 10, countMessages(t, store, path.ID))
	assert.Equal(t, 500, client.Compactor().Config().TokenThreshold)
}

func TestCompactionJob_AllPaths(t *testing.T) {
	client, store := newTestClient(t)
	main := seedConversation(t, client, "conv-a", 10)

	msgs, err := client.ListMessages(context.Background(), "conv-a", main.ID, convpath.ListMessagesOptions{})
	require.NoError(t, err)
	branch, err := client.CreateBranch(context.Background(), convpath.CreateBranchParams{
		ConversationID:  "conv-a",
		SourceMessageID: msgs[len(msgs)-1].ID,
	})
	require.NoError(t, err)

	activeOnly, err := RunCompactionJob(context.Background(), client, &JobConfig{DryRun: true, Retry: fastRetry()})
	require.NoError(t, err)
	assert.Len(t, activeOnly.Details, 1)

	all, err := RunCompactionJob(context.Background(), client, &JobConfig{AllPaths: true, Retry: fastRetry()})
	require.NoError(t, err)
	assert.Equal(t, 1, all.CompactedConversations)
	assert.Len(t, all.Details, 2)
	assert.Less(t, countMessages(t, store, main.ID), 10)
	assert.Less(t, countMessages(t, store, branch.Path.ID), 10)
}

func TestCompactionJob_InvalidConfig(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := RunCompactionJob(context.Background(), client, &JobConfig{Strategy: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidJobConfig)
}

// failingTarget fails Compact for one conversation and counts calls.
type failingTarget struct {
	*convpath.Client
	failFor string
	err     error
	calls   int
}

func (f *failingTarget) Compact(ctx context.Context, params convpath.CompactParams) (*compaction.Result, error) {
	if params.ConversationID == f.failFor {
		f.calls++
		return nil, f.err
	}
	return f.Client.Compact(ctx, params)
}

func TestCompactionJob_ItemFailuresDoNotStopTheSweep(t *testing.T) {
	client, store := newTestClient(t)
	seedConversation(t, client, "conv-a", 10)
	other := seedConversation(t, client, "conv-b", 10)

	target := &failingTarget{Client: client, failFor: "conv-a", err: errors.New("boom")}
	result, err := RunCompactionJob(context.Background(), target, &JobConfig{Concurrency: 1, Retry: fastRetry()})
	require.NoError(t, err)

	assert.Equal(t, 2, result.ProcessedConversations)
	assert.Equal(t, 1, result.CompactedConversations)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "conv-a")
	assert.Equal(t, 1, target.calls, "non-retryable errors are not retried")
	assert.Less(t, countMessages(t, store, other.ID), 10)
}

func TestCompactionJob_RetriesTransportFailures(t *testing.T) {
	client, _ := newTestClient(t)
	seedConversation(t, client, "conv-a", 10)

	target := &failingTarget{Client: client, failFor: "conv-a", err: types.Transport("compact", errors.New("connection reset"))}
	result, err := RunCompactionJob(context.Background(), target, &JobConfig{Retry: fastRetry()})
	require.NoError(t, err)

	assert.Equal(t, 3, target.calls)
	assert.Len(t, result.Errors, 1)
	assert.Zero(t, result.CompactedConversations)
}

type brokenLister struct {
	*convpath.Client
}

func (brokenLister) ListConversations(context.Context, storage.ListConversationsParams) ([]*types.Conversation, error) {
	return nil, errors.New("database gone")
}

func TestCompactionJob_ListingFailureAborts(t *testing.T) {
	client, _ := newTestClient(t)

	result, err := RunCompactionJob(context.Background(), brokenLister{client}, &JobConfig{Retry: fastRetry()})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Errors, 1)
}
