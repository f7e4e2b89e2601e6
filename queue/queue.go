// Package queue runs threshold-triggered compactions as River jobs.
//
// AppendMessage fires Queue.TriggerCompaction once a path's running token
// estimate crosses the compaction threshold. The trigger inserts a
// compact_path job and returns; a worker on any instance picks the job up
// and compacts the path if it still needs it. Duplicate triggers for the
// same path inside UniquePeriod collapse into one job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Default queue configuration values
const (
	DefaultQueueName    = "compaction"
	DefaultMaxWorkers   = 4
	DefaultMaxAttempts  = 5
	DefaultUniquePeriod = time.Minute
	DefaultJobTimeout   = 5 * time.Minute
)

// ErrNotBound is returned by Start when no Target was bound.
var ErrNotBound = errors.New("queue has no compaction target")

// CompactPathArgs are the arguments of a compact_path job.
type CompactPathArgs struct {
	ConversationID string `json:"conversation_id"`
	PathID         string `json:"path_id"`
	Trigger        string `json:"trigger"`
}

// Kind returns the job kind for River
func (CompactPathArgs) Kind() string {
	return "compact_path"
}

// Target is the part of *convpath.Client the worker drives.
type Target interface {
	Compact(ctx context.Context, params convpath.CompactParams) (*compaction.Result, error)
}

// CompactPathWorker compacts one path. Paths that no longer need it are
// left alone, so repeated jobs are harmless.
type CompactPathWorker struct {
	river.WorkerDefaults[CompactPathArgs]

	target  atomic.Pointer[Target]
	timeout time.Duration
	logger  convpath.Logger
}

// NewCompactPathWorker creates a worker bound to target. target may be nil
// and bound later with Bind.
func NewCompactPathWorker(target Target, logger convpath.Logger) *CompactPathWorker {
	if logger == nil {
		logger = noopLogger{}
	}
	w := &CompactPathWorker{timeout: DefaultJobTimeout, logger: logger}
	if target != nil {
		w.Bind(target)
	}
	return w
}

// Bind sets the client the worker compacts with.
func (w *CompactPathWorker) Bind(target Target) {
	w.target.Store(&target)
}

// Timeout bounds one job, summarization included.
func (w *CompactPathWorker) Timeout(*river.Job[CompactPathArgs]) time.Duration {
	return w.timeout
}

// Work performs the compaction
func (w *CompactPathWorker) Work(ctx context.Context, job *river.Job[CompactPathArgs]) error {
	target := w.target.Load()
	if target == nil {
		return ErrNotBound
	}
	args := job.Args

	trigger := compaction.Trigger(args.Trigger)
	if trigger == "" {
		trigger = compaction.TriggerThreshold
	}

	result, err := (*target).Compact(ctx, convpath.CompactParams{
		ConversationID: args.ConversationID,
		PathID:         args.PathID,
		Trigger:        trigger,
		IfNeeded:       true,
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidState) {
			w.logger.Warn("compaction job cancelled",
				"conversation_id", args.ConversationID,
				"path_id", args.PathID,
				"error", err,
			)
			return river.JobCancel(err)
		}
		return fmt.Errorf("failed to compact path %s: %w", args.PathID, err)
	}

	w.logger.Info("compaction job finished",
		"conversation_id", args.ConversationID,
		"path_id", args.PathID,
		"messages_removed", result.MessagesRemoved,
		"tokens_saved", result.TokensSaved(),
	)
	return nil
}

// Config holds configuration for the queue.
type Config struct {
	// Queue is the River queue compaction jobs run on.
	// Default: "compaction"
	Queue string

	// MaxWorkers bounds concurrent compactions per instance.
	// Default: 4
	MaxWorkers int

	// MaxAttempts bounds retries of a failing job.
	// Default: 5
	MaxAttempts int

	// UniquePeriod collapses triggers for the same path.
	// Default: 1 minute
	UniquePeriod time.Duration

	// InsertOnly creates a client that enqueues without working jobs.
	InsertOnly bool

	Logger convpath.Logger
}

func (c *Config) applyDefaults() {
	if c.Queue == "" {
		c.Queue = DefaultQueueName
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.UniquePeriod <= 0 {
		c.UniquePeriod = DefaultUniquePeriod
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// Queue enqueues and works compact_path jobs. It implements
// convpath.CompactionTrigger.
type Queue struct {
	client *river.Client[pgx.Tx]
	worker *CompactPathWorker
	config Config
}

var _ convpath.CompactionTrigger = (*Queue)(nil)

// New creates a queue on pool. The worker is unbound until Bind is called,
// which lets the queue be passed as convpath.Config.Trigger before the
// client exists.
func New(pool *pgxpool.Pool, config *Config) (*Queue, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()

	worker := NewCompactPathWorker(nil, cfg.Logger)
	riverConfig := &river.Config{MaxAttempts: cfg.MaxAttempts}
	if !cfg.InsertOnly {
		workers := river.NewWorkers()
		river.AddWorker(workers, worker)
		riverConfig.Workers = workers
		riverConfig.Queues = map[string]river.QueueConfig{
			cfg.Queue: {MaxWorkers: cfg.MaxWorkers},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{client: client, worker: worker, config: cfg}, nil
}

// Bind sets the client jobs compact with.
func (q *Queue) Bind(target Target) {
	q.worker.Bind(target)
}

// Start starts the job queue workers
func (q *Queue) Start(ctx context.Context) error {
	if q.config.InsertOnly {
		return nil
	}
	if q.worker.target.Load() == nil {
		return ErrNotBound
	}
	return q.client.Start(ctx)
}

// Stop stops the job queue workers
func (q *Queue) Stop(ctx context.Context) error {
	if q.config.InsertOnly {
		return nil
	}
	return q.client.Stop(ctx)
}

// TriggerCompaction queues a threshold compaction of one path.
func (q *Queue) TriggerCompaction(ctx context.Context, conversationID, pathID string) error {
	return q.Enqueue(ctx, CompactPathArgs{
		ConversationID: conversationID,
		PathID:         pathID,
		Trigger:        string(compaction.TriggerThreshold),
	})
}

// Enqueue queues a compact_path job.
func (q *Queue) Enqueue(ctx context.Context, args CompactPathArgs) error {
	_, err := q.client.Insert(ctx, args, q.insertOpts())
	if err != nil {
		return types.Transport("enqueue compaction", fmt.Errorf("failed to queue compact_path job: %w", err))
	}
	return nil
}

func (q *Queue) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue: q.config.Queue,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: q.config.UniquePeriod,
		},
	}
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate river schema: %w", err)
	}
	return nil
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
