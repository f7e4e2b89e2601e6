// Package metrics holds the Prometheus collectors for path operations,
// compaction and the scheduled jobs.
//
// All Record methods are safe on a nil *Metrics, so components can take an
// optional metrics handle without checking it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
	OutcomeSkipped  = "skipped"
)

// Metrics holds all custom Prometheus metrics for convpath.
type Metrics struct {
	// Path graph operations by name and outcome
	Operations *prometheus.CounterVec
	LockWait   prometheus.Histogram

	// Compaction
	Compactions      *prometheus.CounterVec
	TokensSaved      prometheus.Counter
	MessagesRemoved  prometheus.Counter
	CompactionLength prometheus.Histogram

	// Scheduled jobs
	JobRuns                *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
	ConversationsProcessed prometheus.Counter
	ConversationsCompacted prometheus.Counter
	SnapshotsReaped        prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convpath_operations_total",
			Help: "Total number of path graph operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "convpath_path_lock_wait_seconds",
			Help:    "Time spent waiting for the in-process path lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convpath_compactions_total",
			Help: "Total number of path compactions by strategy, trigger and outcome",
		}, []string{"strategy", "trigger", "outcome"}),

		TokensSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "convpath_compaction_tokens_saved_total",
			Help: "Total visible tokens removed by compaction",
		}),

		MessagesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "convpath_compaction_messages_removed_total",
			Help: "Total messages removed by compaction",
		}),

		// Summarizer calls dominate, so buckets reach into minutes
		CompactionLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "convpath_compaction_duration_seconds",
			Help:    "Duration of one path compaction in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convpath_job_runs_total",
			Help: "Total number of scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convpath_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),

		ConversationsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "convpath_job_conversations_processed_total",
			Help: "Total conversations inspected by the compaction job",
		}),

		ConversationsCompacted: factory.NewCounter(prometheus.CounterOpts{
			Name: "convpath_job_conversations_compacted_total",
			Help: "Total conversations with at least one compacted path",
		}),

		SnapshotsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "convpath_snapshots_reaped_total",
			Help: "Total compaction snapshots deleted by retention",
		}),
	}
}

// RecordOperation records one path graph operation.
func (m *Metrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// RecordLockWait records how long a caller waited for a path lock.
func (m *Metrics) RecordLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// RecordCompaction records one compaction attempt.
func (m *Metrics) RecordCompaction(strategy, trigger, outcome string, tokensSaved, messagesRemoved int, d time.Duration) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(strategy, trigger, outcome).Inc()
	m.CompactionLength.Observe(d.Seconds())
	if tokensSaved > 0 {
		m.TokensSaved.Add(float64(tokensSaved))
	}
	if messagesRemoved > 0 {
		m.MessagesRemoved.Add(float64(messagesRemoved))
	}
}

// RecordJobRun records one run of a scheduled job.
func (m *Metrics) RecordJobRun(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordJobConversations records the conversation counts of one compaction job.
func (m *Metrics) RecordJobConversations(processed, compacted int) {
	if m == nil {
		return
	}
	m.ConversationsProcessed.Add(float64(processed))
	m.ConversationsCompacted.Add(float64(compacted))
}

// RecordSnapshotsReaped records snapshots removed by retention.
func (m *Metrics) RecordSnapshotsReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SnapshotsReaped.Add(float64(n))
}
