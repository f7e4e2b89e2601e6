package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
)

// Default reaper configuration values
const (
	DefaultSnapshotRetention = 30 * 24 * time.Hour

	snapshotSource = "snapshots"
)

// SnapshotStore is the part of storage.Store the reaper needs.
type SnapshotStore interface {
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReapSource deletes one kind of expired resource and reports how many
// were removed.
type ReapSource struct {
	Name string
	Reap func(ctx context.Context) (int64, error)
}

// ReaperConfig holds configuration for the reaper.
type ReaperConfig struct {
	// SnapshotRetention is how long compaction snapshots are kept.
	// A negative value keeps them forever.
	// Default: 30 days
	SnapshotRetention time.Duration

	// Sources are reaped after snapshots, in order.
	Sources []ReapSource

	// OnReaped is called for each source that removed something.
	OnReaped func(source string, count int64)

	// OnError is called when a source fails.
	OnError func(err error)
}

// DefaultReaperConfig returns the default reaper configuration.
func DefaultReaperConfig() *ReaperConfig {
	return &ReaperConfig{
		SnapshotRetention: DefaultSnapshotRetention,
	}
}

// ReapResult holds the results of one reaper pass.
type ReapResult struct {
	// Reaped maps source name to the number of resources removed.
	Reaped map[string]int64

	// Errors contains any errors that occurred during the pass.
	Errors []error
}

// Total returns the number of resources removed across sources.
func (r *ReapResult) Total() int64 {
	var n int64
	for _, c := range r.Reaped {
		n += c
	}
	return n
}

// Reaper deletes expired snapshots and other registered resources.
// This should only be run by the leader instance.
type Reaper struct {
	store   SnapshotStore
	config  *ReaperConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReaper creates a new reaper. m may be nil.
func NewReaper(store SnapshotStore, config *ReaperConfig, m *metrics.Metrics) *Reaper {
	if config == nil {
		config = DefaultReaperConfig()
	}
	if config.SnapshotRetention == 0 {
		config.SnapshotRetention = DefaultSnapshotRetention
	}

	return &Reaper{
		store:   store,
		config:  config,
		metrics: m,
		now:     time.Now,
	}
}

// Register adds a source to every following pass.
func (r *Reaper) Register(source ReapSource) {
	r.config.Sources = append(r.config.Sources, source)
}

// RunOnce performs one pass and returns the result. A failing source does
// not stop the ones after it.
func (r *Reaper) RunOnce(ctx context.Context) *ReapResult {
	result := &ReapResult{Reaped: make(map[string]int64)}

	if r.config.SnapshotRetention > 0 {
		cutoff := r.now().Add(-r.config.SnapshotRetention)
		r.reap(ctx, result, ReapSource{
			Name: snapshotSource,
			Reap: func(ctx context.Context) (int64, error) {
				return r.store.DeleteSnapshotsBefore(ctx, cutoff)
			},
		})
		r.metrics.RecordSnapshotsReaped(result.Reaped[snapshotSource])
	}

	for _, source := range r.config.Sources {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		r.reap(ctx, result, source)
	}

	return result
}

func (r *Reaper) reap(ctx context.Context, result *ReapResult, source ReapSource) {
	n, err := r.safeReap(ctx, source)
	if err != nil {
		err = fmt.Errorf("reap %s: %w", source.Name, err)
		result.Errors = append(result.Errors, err)
		if r.config.OnError != nil {
			r.config.OnError(err)
		}
		return
	}

	result.Reaped[source.Name] += n
	if n > 0 && r.config.OnReaped != nil {
		r.config.OnReaped(source.Name, n)
	}
}

func (r *Reaper) safeReap(ctx context.Context, source ReapSource) (n int64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return source.Reap(ctx)
}

// ScheduledJob returns the reaper as a job for Scheduler. The job fails
// when any source failed.
func (r *Reaper) ScheduledJob(name, schedule string) ScheduledJob {
	return ScheduledJob{
		Name:     name,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			result := r.RunOnce(ctx)
			if len(result.Errors) == 0 {
				return nil
			}
			msgs := make([]string, 0, len(result.Errors))
			for _, err := range result.Errors {
				msgs = append(msgs, err.Error())
			}
			sort.Strings(msgs)
			return fmt.Errorf("%d reap errors, first: %s", len(msgs), msgs[0])
		},
	}
}
