package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/testutil"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

type fakeTarget struct {
	params []convpath.CompactParams
	err    error
}

func (f *fakeTarget) Compact(_ context.Context, params convpath.CompactParams) (*compaction.Result, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &compaction.Result{Success: true, TokensBefore: 900, TokensAfter: 300, MessagesRemoved: 4}, nil
}

func job(args CompactPathArgs) *river.Job[CompactPathArgs] {
	return &river.Job[CompactPathArgs]{Args: args}
}

func TestCompactPathArgs_Kind(t *testing.T) {
	assert.Equal(t, "compact_path", CompactPathArgs{}.Kind())
}

func TestCompactPathWorker_Work(t *testing.T) {
	target := &fakeTarget{}
	worker := NewCompactPathWorker(target, nil)

	err := worker.Work(context.Background(), job(CompactPathArgs{ConversationID: "conv-1", PathID: "path-1"}))
	require.NoError(t, err)

	require.Len(t, target.params, 1)
	got := target.params[0]
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "path-1", got.PathID)
	assert.Equal(t, compaction.TriggerThreshold, got.Trigger)
	assert.True(t, got.IfNeeded)
	assert.False(t, got.DryRun)
	assert.Equal(t, DefaultJobTimeout, worker.Timeout(nil))
}

func TestCompactPathWorker_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing path is cancelled", types.NotFound("compact", "path", "path-1")},
		{"transport failure is retried", types.Transport("compact", errors.New("connection reset"))},
		{"summarizer failure is retried", types.CompactionFailed("compact", "path-1", errors.New("overloaded"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := NewCompactPathWorker(&fakeTarget{err: tt.err}, nil)
			err := worker.Work(context.Background(), job(CompactPathArgs{ConversationID: "conv-1", PathID: "path-1"}))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCompactPathWorker_Unbound(t *testing.T) {
	worker := NewCompactPathWorker(nil, nil)
	err := worker.Work(context.Background(), job(CompactPathArgs{PathID: "path-1"}))
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestCompactPathWorker_CompactsThroughClient(t *testing.T) {
	store := storage.NewMemoryStore(time.Second)
	compactor := compaction.NewWithSummarizer(store, summarizerFunc(func(msgs []*types.Message) string {
		return fmt.Sprintf("summary of %d messages", len(msgs))
	}), nil, &compaction.Config{
		Strategy:         compaction.StrategySlidingWindow,
		TokenThreshold:   500,
		TargetTokenRatio: 0.5,
		WindowSize:       4,
		PreserveLastN:    2,
	}, nil)
	client, err := convpath.New(&convpath.Config{Store: store, Compactor: compactor})
	require.NoError(t, err)

	ctx := context.Background()
	conv, path, err := client.CreateConversation(ctx, convpath.CreateConversationParams{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		_, err := client.AppendMessage(ctx, convpath.AppendMessageParams{
			ConversationID: conv.ID,
			PathID:         path.ID,
			Role:           role,
			Content:        strings.Repeat("x", 400),
		})
		require.NoError(t, err)
	}

	worker := NewCompactPathWorker(client, nil)
	args := CompactPathArgs{ConversationID: conv.ID, PathID: path.ID}
	require.NoError(t, worker.Work(ctx, job(args)))

	n, err := store.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	assert.Less(t, n, 10)

	// a second job finds nothing to do
	require.NoError(t, worker.Work(ctx, job(args)))
	again, err := store.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	assert.Equal(t, n, again)
}

type summarizerFunc func(msgs []*types.Message) string

func (f summarizerFunc) Summarize(_ context.Context, _, toSummarize []*types.Message) (string, error) {
	return f(toSummarize), nil
}

func TestQueue_Integration(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db.Pool))

	q, err := New(db.Pool, &Config{InsertOnly: true})
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx))
	defer func() { _ = q.Stop(ctx) }()

	require.NoError(t, q.TriggerCompaction(ctx, testutil.ID("conv"), testutil.ID("path")))
}

func TestQueue_StartRequiresBinding(t *testing.T) {
	db := testutil.NewTestDB(t)

	q, err := New(db.Pool, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Start(context.Background()), ErrNotBound)
}
