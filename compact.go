package convpath

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// CompactParams selects the path to compact and how.
type CompactParams struct {
	ConversationID string
	PathID         string

	// Trigger defaults to compaction.TriggerManual.
	Trigger compaction.Trigger

	// Compactor overrides the client's compactor, e.g. with a job's config.
	Compactor *compaction.Compactor

	// IfNeeded skips paths below the compaction threshold.
	IfNeeded bool

	// DryRun plans the compaction and reports it without writing.
	DryRun bool
}

// CompactPath compacts one path with the client's compactor.
func (c *Client) CompactPath(ctx context.Context, conversationID, pathID string, trigger compaction.Trigger) (*compaction.Result, error) {
	return c.Compact(ctx, CompactParams{
		ConversationID: conversationID,
		PathID:         pathID,
		Trigger:        trigger,
	})
}

// Compact runs a compaction strategy on one path.
//
// Summaries are generated without holding the path lock. The commit checks
// under the lock that the path still holds the rows the plan was made from
// and fails with ErrConcurrencyConflict otherwise, so a retry is always safe.
// A failed compaction leaves the path untouched.
func (c *Client) Compact(ctx context.Context, params CompactParams) (*compaction.Result, error) {
	compactor := params.Compactor
	if compactor == nil {
		compactor = c.compactor
	}
	trigger := params.Trigger
	if trigger == "" {
		trigger = compaction.TriggerManual
	}
	strategy := compactor.Config().Strategy

	path, err := c.pathInConversation(ctx, params.ConversationID, params.PathID)
	if err != nil {
		return nil, err
	}
	messages, err := c.store.ListMessages(ctx, path.ID, storage.ListMessagesParams{IncludeSuperseded: true})
	if err != nil {
		return nil, err
	}

	req := compaction.Request{
		ConversationID:   path.ConversationID,
		PathID:           path.ID,
		Messages:         messages,
		PinnedMessageIDs: pinnedIDs(messages),
		Trigger:          trigger,
	}

	if params.IfNeeded {
		stats, err := compactor.GetStats(ctx, messages, req.PinnedMessageIDs)
		if err != nil {
			c.metrics.RecordCompaction(string(strategy), string(trigger), metrics.OutcomeError, 0, 0, 0)
			return nil, err
		}
		if !stats.NeedsCompaction {
			c.metrics.RecordCompaction(string(strategy), string(trigger), metrics.OutcomeSkipped, 0, 0, 0)
			return &compaction.Result{
				Success:      true,
				Messages:     messages,
				TokensBefore: stats.TotalTokens,
				TokensAfter:  stats.TotalTokens,
				Strategy:     strategy,
				Trigger:      trigger,
			}, nil
		}
	}

	if params.DryRun {
		return c.planCompaction(ctx, compactor, req)
	}

	result, err := compactor.CompactPath(ctx, req)
	c.metrics.RecordCompaction(string(result.Strategy), string(result.Trigger), outcome(err),
		result.TokensSaved(), result.MessagesRemoved, result.Duration)
	if err != nil {
		return result, err
	}

	if result.MessagesRemoved > 0 {
		c.estimates.Delete(path.ID)
		c.publish(ctx, notifier.EventMessagesChanged, path.ConversationID, path.ID, types.MessageIDs(result.Messages))
		c.publish(ctx, notifier.EventCompactionCompleted, path.ConversationID, path.ID, nil)
	}
	return result, nil
}

func (c *Client) planCompaction(ctx context.Context, compactor *compaction.Compactor, req compaction.Request) (*compaction.Result, error) {
	plan, err := compactor.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return &compaction.Result{
		Success:          true,
		Messages:         plan.Messages,
		TokensBefore:     plan.TokensBefore,
		TokensAfter:      plan.TokensAfter,
		MessagesRemoved:  len(plan.Removed),
		SummariesCreated: len(plan.Summaries),
		Strategy:         plan.Strategy,
		Trigger:          req.Trigger,
	}, nil
}

// NeedsCompaction reports whether a path is above the compaction threshold
// and has something to remove.
func (c *Client) NeedsCompaction(ctx context.Context, conversationID, pathID string) (bool, error) {
	stats, err := c.CompactionStats(ctx, conversationID, pathID)
	if err != nil {
		return false, err
	}
	return stats.NeedsCompaction, nil
}

// CompactionStats describes the token usage of a path.
func (c *Client) CompactionStats(ctx context.Context, conversationID, pathID string) (*compaction.Stats, error) {
	if _, err := c.pathInConversation(ctx, conversationID, pathID); err != nil {
		return nil, err
	}
	messages, err := c.store.ListMessages(ctx, pathID, storage.ListMessagesParams{IncludeSuperseded: true})
	if err != nil {
		return nil, err
	}
	return c.compactor.GetStats(ctx, messages, pinnedIDs(messages))
}

// ListSnapshots returns the compaction snapshots of a path, newest first.
func (c *Client) ListSnapshots(ctx context.Context, conversationID, pathID string) ([]*types.CompactionSnapshot, error) {
	if _, err := c.pathInConversation(ctx, conversationID, pathID); err != nil {
		return nil, err
	}
	return c.store.ListSnapshots(ctx, pathID)
}

// GetSnapshot returns a compaction snapshot by id.
func (c *Client) GetSnapshot(ctx context.Context, id string) (*types.CompactionSnapshot, error) {
	return c.store.GetSnapshot(ctx, id)
}

func pinnedIDs(messages []*types.Message) []string {
	var ids []string
	for _, m := range messages {
		if m.Pinned {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
