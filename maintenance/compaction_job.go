// Package maintenance runs the periodic sweeps of a convpath deployment: the
// compaction job, the reaper for expired resources, and the scheduler that
// runs both on the elected leader.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/retry"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Default compaction job values
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// Target is the part of *convpath.Client the compaction job drives.
type Target interface {
	ListConversations(ctx context.Context, params storage.ListConversationsParams) ([]*types.Conversation, error)
	ListPaths(ctx context.Context, conversationID string) ([]*types.Path, error)
	GetActivePath(ctx context.Context, conversationID string) (*types.Path, error)
	Compactor() *compaction.Compactor
	Compact(ctx context.Context, params convpath.CompactParams) (*compaction.Result, error)
}

// JobConfig configures one compaction sweep. Zero compaction fields keep the
// value of the target's compactor.
type JobConfig struct {
	TokenThreshold   int
	TargetTokenRatio float64
	Strategy         compaction.Strategy
	Model            string

	// CreateSnapshots is always applied.
	// Default: true (DefaultJobConfig only)
	CreateSnapshots bool

	// BatchSize is the number of conversations fetched per page.
	// Default: 100
	BatchSize int

	// DryRun plans every compaction and reports it without writing.
	DryRun bool

	// AllPaths sweeps every path instead of only the active one.
	AllPaths bool

	// Concurrency bounds the conversations processed at once.
	// Default: 4
	Concurrency int

	// TenantID restricts the sweep to one tenant.
	TenantID string

	// Retry applies to transport failures and lock conflicts per item.
	// Default: retry.DefaultConfig()
	Retry retry.Config
}

// DefaultJobConfig returns the default sweep configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		CreateSnapshots: true,
		BatchSize:       DefaultBatchSize,
		Concurrency:     DefaultConcurrency,
		Retry:           retry.DefaultConfig(),
	}
}

func (c *JobConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = retry.DefaultConfig()
	}
}

// compactionConfig overlays the job's fields on base.
func (c *JobConfig) compactionConfig(base compaction.Config) (*compaction.Config, error) {
	if c.TokenThreshold != 0 {
		base.TokenThreshold = c.TokenThreshold
	}
	if c.TargetTokenRatio != 0 {
		base.TargetTokenRatio = c.TargetTokenRatio
	}
	if c.Strategy != "" {
		base.Strategy = c.Strategy
	}
	if c.Model != "" {
		base.Model = c.Model
	}
	base.CreateSnapshots = c.CreateSnapshots

	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJobConfig, err)
	}
	return &base, nil
}

// JobDetail reports one path the sweep compacted, would compact, or failed on.
type JobDetail struct {
	ConversationID  string `json:"conversation_id"`
	PathID          string `json:"path_id,omitempty"`
	TokensBefore    int    `json:"tokens_before"`
	TokensAfter     int    `json:"tokens_after"`
	MessagesRemoved int    `json:"messages_removed"`
	Compacted       bool   `json:"compacted"`
	DryRun          bool   `json:"dry_run,omitempty"`
	Error           string `json:"error,omitempty"`
}

// JobResult aggregates one sweep. In a dry run CompactedConversations counts
// the conversations that would have been compacted.
type JobResult struct {
	ProcessedConversations int         `json:"processed_conversations"`
	CompactedConversations int         `json:"compacted_conversations"`
	TotalTokensSaved       int         `json:"total_tokens_saved"`
	TotalMessagesRemoved   int         `json:"total_messages_removed"`
	Errors                 []string    `json:"errors"`
	DurationMs             int64       `json:"duration_ms"`
	Details                []JobDetail `json:"details"`
}

// CompactionJob sweeps conversations and compacts the paths that need it.
// One conversation failing never stops the sweep.
type CompactionJob struct {
	target  Target
	config  JobConfig
	logger  convpath.Logger
	metrics *metrics.Metrics

	// mu protects result while items run concurrently
	mu sync.Mutex
}

// NewCompactionJob creates a sweep over target. A nil config uses
// DefaultJobConfig; logger and m may be nil.
func NewCompactionJob(target Target, config *JobConfig, logger convpath.Logger, m *metrics.Metrics) *CompactionJob {
	cfg := *DefaultJobConfig()
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}

	return &CompactionJob{
		target:  target,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// RunCompactionJob runs one sweep with config.
func RunCompactionJob(ctx context.Context, target Target, config *JobConfig) (*JobResult, error) {
	return NewCompactionJob(target, config, nil, nil).Run(ctx)
}

// Run performs one sweep. The returned error is set only when the sweep
// could not continue; per-item failures are reported in the result.
func (j *CompactionJob) Run(ctx context.Context) (*JobResult, error) {
	start := time.Now()
	result := &JobResult{Errors: []string{}, Details: []JobDetail{}}

	cc, err := j.config.compactionConfig(j.target.Compactor().Config())
	if err != nil {
		return nil, err
	}
	compactor := j.target.Compactor().WithConfig(cc)

	j.logger.Info("compaction job started",
		"strategy", cc.Strategy,
		"token_threshold", cc.TokenThreshold,
		"dry_run", j.config.DryRun,
		"all_paths", j.config.AllPaths,
	)

	err = j.sweep(ctx, compactor, result)

	sort.Slice(result.Details, func(a, b int) bool {
		if result.Details[a].ConversationID != result.Details[b].ConversationID {
			return result.Details[a].ConversationID < result.Details[b].ConversationID
		}
		return result.Details[a].PathID < result.Details[b].PathID
	})
	result.DurationMs = time.Since(start).Milliseconds()
	j.metrics.RecordJobConversations(result.ProcessedConversations, result.CompactedConversations)

	j.logger.Info("compaction job finished",
		"processed", result.ProcessedConversations,
		"compacted", result.CompactedConversations,
		"tokens_saved", result.TotalTokensSaved,
		"messages_removed", result.TotalMessagesRemoved,
		"errors", len(result.Errors),
		"duration_ms", result.DurationMs,
	)
	return result, err
}

func (j *CompactionJob) sweep(ctx context.Context, compactor *compaction.Compactor, result *JobResult) error {
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []*types.Conversation
		_, err := retry.Do(ctx, j.config.Retry, types.IsRetryable, func(ctx context.Context) error {
			var err error
			page, err = j.target.ListConversations(ctx, storage.ListConversationsParams{
				TenantID: j.config.TenantID,
				Limit:    j.config.BatchSize,
				Offset:   offset,
			})
			return err
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("list conversations: %v", err))
			return fmt.Errorf("failed to list conversations: %w", err)
		}

		var g errgroup.Group
		g.SetLimit(j.config.Concurrency)
		for _, conv := range page {
			g.Go(func() error {
				j.processConversation(ctx, compactor, conv, result)
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < j.config.BatchSize {
			return nil
		}
		offset += len(page)
	}
}

func (j *CompactionJob) processConversation(ctx context.Context, compactor *compaction.Compactor, conv *types.Conversation, result *JobResult) {
	paths, err := j.paths(ctx, conv.ID)
	if err != nil {
		j.record(result, conv.ID, false, nil, JobDetail{ConversationID: conv.ID, Error: err.Error()})
		return
	}

	var details []JobDetail
	compacted := false
	for _, path := range paths {
		var res *compaction.Result
		_, err := retry.Do(ctx, j.config.Retry, types.IsRetryable, func(ctx context.Context) error {
			var err error
			res, err = j.target.Compact(ctx, convpath.CompactParams{
				ConversationID: conv.ID,
				PathID:         path.ID,
				Trigger:        compaction.TriggerScheduled,
				Compactor:      compactor,
				IfNeeded:       true,
				DryRun:         j.config.DryRun,
			})
			return err
		})

		detail := JobDetail{ConversationID: conv.ID, PathID: path.ID, DryRun: j.config.DryRun}
		if err != nil {
			j.logger.Warn("compaction failed",
				"conversation_id", conv.ID,
				"path_id", path.ID,
				"error", err,
			)
			detail.Error = err.Error()
			details = append(details, detail)
			continue
		}
		if res.MessagesRemoved == 0 {
			continue
		}

		detail.TokensBefore = res.TokensBefore
		detail.TokensAfter = res.TokensAfter
		detail.MessagesRemoved = res.MessagesRemoved
		detail.Compacted = !j.config.DryRun
		details = append(details, detail)
		compacted = true
	}

	j.record(result, conv.ID, compacted, details, JobDetail{})
}

// paths returns the paths the sweep checks for one conversation.
func (j *CompactionJob) paths(ctx context.Context, conversationID string) ([]*types.Path, error) {
	var paths []*types.Path
	_, err := retry.Do(ctx, j.config.Retry, types.IsRetryable, func(ctx context.Context) error {
		if j.config.AllPaths {
			var err error
			paths, err = j.target.ListPaths(ctx, conversationID)
			return err
		}
		path, err := j.target.GetActivePath(ctx, conversationID)
		if err != nil {
			return err
		}
		paths = []*types.Path{path}
		return nil
	})
	return paths, err
}

// record merges one conversation's outcome into result. A non-empty
// failure.Error records a conversation that could not be inspected.
func (j *CompactionJob) record(result *JobResult, conversationID string, compacted bool, details []JobDetail, failure JobDetail) {
	j.mu.Lock()
	defer j.mu.Unlock()

	result.ProcessedConversations++
	if failure.Error != "" {
		details = append(details, failure)
	}
	if compacted {
		result.CompactedConversations++
	}
	for _, d := range details {
		if d.Error != "" {
			msg := fmt.Sprintf("conversation %s: %s", conversationID, d.Error)
			if d.PathID != "" {
				msg = fmt.Sprintf("conversation %s path %s: %s", conversationID, d.PathID, d.Error)
			}
			result.Errors = append(result.Errors, msg)
			continue
		}
		result.TotalMessagesRemoved += d.MessagesRemoved
		if d.TokensBefore > d.TokensAfter {
			result.TotalTokensSaved += d.TokensBefore - d.TokensAfter
		}
	}
	result.Details = append(result.Details, details...)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
