package compaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Logger interface for compaction logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// errPathChanged is the cause of conflicts raised when the path moved on
// between planning and commit.
var errPathChanged = errors.New("path changed since compaction was planned")

// Request identifies the path to compact and its current rows.
type Request struct {
	ConversationID string
	PathID         string

	// Messages is every row of the path in sequence order, superseded included.
	Messages []*types.Message

	// PinnedMessageIDs protects messages in addition to their Pinned flag.
	PinnedMessageIDs []string

	Trigger Trigger
}

// Plan is the outcome of running a strategy without persisting it.
type Plan struct {
	Strategy     Strategy
	Messages     []*types.Message
	Removed      []*types.Message
	Summaries    []*types.Message
	TokensBefore int
	TokensAfter  int
}

// Changed reports whether committing the plan would modify the path.
func (p *Plan) Changed() bool {
	return len(p.Removed) > 0
}

// Result contains the outcome of a compaction operation.
type Result struct {
	// Success is false when nothing was written.
	Success bool

	// Messages is the new sequence on success and the original one otherwise.
	Messages []*types.Message

	TokensBefore     int
	TokensAfter      int
	MessagesRemoved  int
	SummariesCreated int

	// Error describes the failure when Success is false.
	Error string

	// SnapshotID is empty when nothing changed or snapshots are disabled.
	SnapshotID string

	Strategy Strategy
	Trigger  Trigger
	Duration time.Duration
}

// TokensSaved returns how many visible tokens the compaction removed.
func (r *Result) TokensSaved() int {
	if !r.Success || r.TokensAfter > r.TokensBefore {
		return 0
	}
	return r.TokensBefore - r.TokensAfter
}

// Stats describes the compaction state of one path.
type Stats struct {
	TotalMessages       int
	VisibleMessages     int
	TotalTokens         int
	UsagePercent        float64
	ProtectedMessages   int
	RecentMessages      int
	SummaryMessages     int
	CompactableMessages int
	NeedsCompaction     bool
}

// Compactor rewrites path sequences. It is safe for concurrent use; callers
// serialize work on the same path.
type Compactor struct {
	store        storage.Store
	config       *Config
	logger       Logger
	tokenCounter *TokenCounter
	summarizer   Summarizer
	partitioner  *Partitioner
	strategy     StrategyExecutor
	now          func() time.Time
}

// New creates a Compactor that summarizes and counts with client.
// If config is nil, default configuration is used.
func New(store storage.Store, client *anthropic.Client, config *Config, logger Logger) *Compactor {
	config = normalizeConfig(config)
	tokenCounter := NewTokenCounter(client, config.UseTokenCountingAPI)
	summarizer := NewAnthropicSummarizer(client, config.SummarizerModel, config.SummarizerMaxTokens, config.SummarizerRateLimit)
	return NewWithSummarizer(store, summarizer, tokenCounter, config, logger)
}

// NewWithSummarizer creates a Compactor from explicit components.
// A nil tokenCounter uses the approximation only.
func NewWithSummarizer(store storage.Store, summarizer Summarizer, tokenCounter *TokenCounter, config *Config, logger Logger) *Compactor {
	config = normalizeConfig(config)
	if logger == nil {
		logger = noopLogger{}
	}
	if tokenCounter == nil {
		tokenCounter = NewTokenCounter(nil, false)
	}

	return &Compactor{
		store:        store,
		config:       config,
		logger:       logger,
		tokenCounter: tokenCounter,
		summarizer:   summarizer,
		partitioner:  NewPartitioner(tokenCounter, config),
		strategy:     NewStrategyFactory(config, summarizer).Create(),
		now:          time.Now,
	}
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	c := *config
	c.ApplyDefaults()
	return &c
}

// WithConfig returns a Compactor sharing store, summarizer and token cache
// but using config.
func (c *Compactor) WithConfig(config *Config) *Compactor {
	next := NewWithSummarizer(c.store, c.summarizer, c.tokenCounter, config, c.logger)
	next.now = c.now
	return next
}

// Config returns a copy of the compactor's configuration.
func (c *Compactor) Config() Config {
	return *c.config
}

// GetStats returns statistics about a path's compaction state.
func (c *Compactor) GetStats(ctx context.Context, messages []*types.Message, pinnedIDs []string) (*Stats, error) {
	partition, err := c.partitioner.Partition(ctx, messages, pinnedIDs)
	if err != nil {
		return nil, WrapError("GetStats", "", err)
	}

	total := partition.Stats.TotalTokens
	return &Stats{
		TotalMessages:       len(messages),
		VisibleMessages:     len(messages) - len(partition.Superseded),
		TotalTokens:         total,
		UsagePercent:        float64(total) / float64(c.config.TokenThreshold),
		ProtectedMessages:   len(partition.Protected),
		RecentMessages:      len(partition.Recent),
		SummaryMessages:     partition.Stats.SummaryMessages,
		CompactableMessages: len(partition.Compactable),
		NeedsCompaction:     total > c.config.TokenThreshold && partition.CanCompact(),
	}, nil
}

// NeedsCompaction reports whether the visible tokens exceed the threshold and
// at least one message could be removed.
func (c *Compactor) NeedsCompaction(ctx context.Context, messages []*types.Message, pinnedIDs []string) (bool, error) {
	stats, err := c.GetStats(ctx, messages, pinnedIDs)
	if err != nil {
		return false, err
	}
	return stats.NeedsCompaction, nil
}

// Plan runs the configured strategy without writing anything.
func (c *Compactor) Plan(ctx context.Context, req Request) (*Plan, error) {
	if req.PathID == "" {
		return nil, types.InvalidState("Plan", "path id is required")
	}
	for i, msg := range req.Messages {
		if msg.PathID != req.PathID {
			return nil, types.InvalidState("Plan", "message %s belongs to path %s, not %s", msg.ID, msg.PathID, req.PathID)
		}
		if msg.SequenceInPath != i {
			return nil, types.InvalidState("Plan", "message %s has sequence %d at position %d", msg.ID, msg.SequenceInPath, i)
		}
	}

	partition, err := c.partitioner.Partition(ctx, req.Messages, req.PinnedMessageIDs)
	if err != nil {
		return nil, WrapError("Partition", req.PathID, err)
	}

	plan := &Plan{
		Strategy:     c.strategy.Name(),
		Messages:     req.Messages,
		TokensBefore: partition.Stats.TotalTokens,
		TokensAfter:  partition.Stats.TotalTokens,
	}
	if !partition.CanCompact() || c.strategy.Name() == StrategyNone {
		return plan, nil
	}

	c.logger.Debug("partition complete",
		"path_id", req.PathID,
		"compactable", len(partition.Compactable),
		"protected", len(partition.Protected),
		"recent", len(partition.Recent),
		"superseded", len(partition.Superseded),
	)

	result, err := c.strategy.Execute(ctx, &StrategyInput{
		ConversationID: req.ConversationID,
		PathID:         req.PathID,
		Messages:       req.Messages,
		Partition:      partition,
		Config:         c.config,
		now:            c.now,
	})
	if err != nil {
		return nil, WrapError("ExecuteStrategy", req.PathID, err)
	}

	for _, msg := range result.Removed {
		if partition.IsProtected(msg.ID) {
			return nil, NewCompactionError("ExecuteStrategy", fmt.Errorf("strategy removed protected message %s", msg.ID)).
				WithPath(req.PathID)
		}
	}

	tokensAfter := 0
	for _, msg := range result.Messages {
		if !msg.IsSuperseded() && !isNew(msg, result.Summaries) {
			tokensAfter += partition.Tokens(msg.ID)
		}
	}
	if len(result.Summaries) > 0 {
		_, summaryTokens, err := c.tokenCounter.CountMessages(ctx, c.config.Model, result.Summaries)
		if err != nil {
			return nil, WrapError("CountTokens", req.PathID, err)
		}
		tokensAfter += summaryTokens
	}

	plan.Messages = result.Messages
	plan.Removed = result.Removed
	plan.Summaries = result.Summaries
	plan.TokensAfter = tokensAfter
	return plan, nil
}

// CompactPath plans and commits a compaction of one path. On failure the
// result has Success=false, the original messages, and the error is also
// returned; nothing was written.
func (c *Compactor) CompactPath(ctx context.Context, req Request) (*Result, error) {
	start := c.now()
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	result := &Result{
		Messages: req.Messages,
		Strategy: c.strategy.Name(),
		Trigger:  req.Trigger,
	}

	c.logger.Info("starting compaction",
		"conversation_id", req.ConversationID,
		"path_id", req.PathID,
		"strategy", result.Strategy,
		"trigger", req.Trigger,
	)

	plan, err := c.Plan(ctx, req)
	if err != nil {
		return c.fail(result, start, err)
	}
	result.TokensBefore = plan.TokensBefore
	result.TokensAfter = plan.TokensBefore

	if !plan.Changed() {
		c.logger.Debug("compaction made no changes", "path_id", req.PathID)
		result.Success = true
		result.Duration = time.Since(start)
		return result, nil
	}

	snapshotID, err := c.commit(ctx, req, plan)
	if err != nil {
		return c.fail(result, start, err)
	}

	result.Success = true
	result.Messages = plan.Messages
	result.TokensAfter = plan.TokensAfter
	result.MessagesRemoved = len(plan.Removed)
	result.SummariesCreated = len(plan.Summaries)
	result.SnapshotID = snapshotID
	result.Duration = time.Since(start)

	c.logger.Info("compaction complete",
		"path_id", req.PathID,
		"strategy", result.Strategy,
		"tokens_before", result.TokensBefore,
		"tokens_after", result.TokensAfter,
		"messages_removed", result.MessagesRemoved,
		"summaries_created", result.SummariesCreated,
		"snapshot_id", result.SnapshotID,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

func (c *Compactor) fail(result *Result, start time.Time, err error) (*Result, error) {
	result.Success = false
	result.Error = err.Error()
	result.Duration = time.Since(start)
	c.logger.Warn("compaction failed",
		"strategy", result.Strategy,
		"trigger", result.Trigger,
		"error", err,
	)
	return result, err
}

// commit writes the snapshot and the new sequence in one transaction after
// checking the path still holds exactly the planned-from rows.
func (c *Compactor) commit(ctx context.Context, req Request, plan *Plan) (string, error) {
	var snapshotID string

	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.LockPath(ctx, req.PathID); err != nil {
			return err
		}

		current, err := c.store.ListMessages(ctx, req.PathID, storage.ListMessagesParams{IncludeSuperseded: true})
		if err != nil {
			return err
		}
		if err := verifyUnchanged(req, plan, current); err != nil {
			return err
		}

		if c.config.CreateSnapshots {
			snap := c.buildSnapshot(req, plan)
			if err := c.store.CreateSnapshot(ctx, snap); err != nil {
				return err
			}
			snapshotID = snap.ID
		}

		return c.store.ReplacePathMessages(ctx, req.PathID, plan.Messages)
	})
	if err != nil {
		return "", err
	}
	return snapshotID, nil
}

func verifyUnchanged(req Request, plan *Plan, current []*types.Message) error {
	if len(current) != len(req.Messages) {
		return types.Conflict("CompactPath", "path", req.PathID, errPathChanged)
	}
	byID := make(map[string]*types.Message, len(current))
	for i, msg := range current {
		if msg.ID != req.Messages[i].ID || msg.IsSuperseded() != req.Messages[i].IsSuperseded() {
			return types.Conflict("CompactPath", "path", req.PathID, errPathChanged)
		}
		byID[msg.ID] = msg
	}
	for _, msg := range plan.Removed {
		if byID[msg.ID].IsProtected() {
			return types.Conflict("CompactPath", "message", msg.ID, errPathChanged)
		}
	}
	return nil
}

func (c *Compactor) buildSnapshot(req Request, plan *Plan) *types.CompactionSnapshot {
	original := make(map[string]int, len(req.Messages))
	for _, msg := range req.Messages {
		original[msg.ID] = msg.SequenceInPath
	}

	snap := &types.CompactionSnapshot{
		ID:                uuid.New().String(),
		ConversationID:    req.ConversationID,
		PathID:            req.PathID,
		Strategy:          string(plan.Strategy),
		Trigger:           string(req.Trigger),
		TokensBefore:      plan.TokensBefore,
		TokensAfter:       plan.TokensAfter,
		RemovedMessages:   make([]types.SnapshotMessage, 0, len(plan.Removed)),
		RetainedMessages:  make([]types.SnapshotRef, 0, len(plan.Messages)),
		SummaryMessageIDs: types.MessageIDs(plan.Summaries),
		CreatedAt:         c.now(),
	}
	for _, msg := range plan.Removed {
		snap.RemovedMessages = append(snap.RemovedMessages, types.SnapshotMessage{
			ID:             msg.ID,
			Role:           msg.Role,
			Content:        msg.Content,
			SequenceInPath: msg.SequenceInPath,
			Pinned:         msg.Pinned,
			Metadata:       msg.Metadata,
			CreatedAt:      msg.CreatedAt,
		})
	}
	for _, msg := range plan.Messages {
		if seq, ok := original[msg.ID]; ok {
			snap.RetainedMessages = append(snap.RetainedMessages, types.SnapshotRef{ID: msg.ID, OriginalSequence: seq})
		}
	}
	return snap
}

func isNew(msg *types.Message, summaries []*types.Message) bool {
	for _, s := range summaries {
		if s.ID == msg.ID {
			return true
		}
	}
	return false
}
