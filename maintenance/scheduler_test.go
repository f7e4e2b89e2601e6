package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
)

type staticLeader struct{ leader atomic.Bool }

func (l *staticLeader) IsLeader() bool { return l.leader.Load() }

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"15m", false},
		{"1h30m", false},
		{"0 3 * * *", false},
		{"*/5 * * * *", false},
		{"@daily", false},
		{"0s", true},
		{"-5m", true},
		{"not a schedule", true},
		{"61 * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_Add(t *testing.T) {
	s, err := NewScheduler(nil)
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(ScheduledJob{Name: "compaction", Schedule: "0 3 * * *", Run: noop}))

	assert.ErrorIs(t, s.Add(ScheduledJob{Name: "compaction", Schedule: "1h", Run: noop}), ErrDuplicateJob)
	assert.ErrorIs(t, s.Add(ScheduledJob{Name: "bad", Schedule: "whenever", Run: noop}), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Add(ScheduledJob{Name: "", Schedule: "1h", Run: noop}), ErrInvalidJobConfig)
	assert.Equal(t, []string{"compaction"}, s.Jobs())
}

func TestScheduler_RunsDurationJobs(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s, err := NewScheduler(&SchedulerConfig{Metrics: m})
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.Add(ScheduledJob{Name: "tick", Schedule: "20ms", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.JobRuns.WithLabelValues("tick", metrics.OutcomeSuccess)), 2.0)
}

func TestScheduler_LeadershipGate(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	leader := &staticLeader{}
	s, err := NewScheduler(&SchedulerConfig{Leader: leader, Metrics: m})
	require.NoError(t, err)

	var runs int
	require.NoError(t, s.Add(ScheduledJob{Name: "sweep", Schedule: "1h", Run: func(context.Context) error {
		runs++
		return nil
	}}))

	require.NoError(t, s.RunNow(context.Background(), "sweep"))
	assert.Zero(t, runs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("sweep", metrics.OutcomeSkipped)))

	leader.leader.Store(true)
	require.NoError(t, s.RunNow(context.Background(), "sweep"))
	assert.Equal(t, 1, runs)
}

func TestScheduler_RunNowReportsFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s, err := NewScheduler(&SchedulerConfig{Metrics: m})
	require.NoError(t, err)

	require.NoError(t, s.Add(ScheduledJob{Name: "fails", Schedule: "1h", Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, s.Add(ScheduledJob{Name: "panics", Schedule: "1h", Run: func(context.Context) error {
		panic("kaboom")
	}}))

	assert.EqualError(t, s.RunNow(context.Background(), "fails"), "boom")
	assert.ErrorContains(t, s.RunNow(context.Background(), "panics"), "kaboom")
	assert.Error(t, s.RunNow(context.Background(), "missing"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("fails", metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("panics", metrics.OutcomeError)))
}

func TestCompactionJob_ScheduledJob(t *testing.T) {
	client, store := newTestClient(t)
	path := seedConversation(t, client, "conv-a", 10)

	s, err := NewScheduler(nil)
	require.NoError(t, err)
	job := NewCompactionJob(client, &JobConfig{Retry: fastRetry()}, nil, nil)
	require.NoError(t, s.Add(job.ScheduledJob("compaction", "0 3 * * *")))

	require.NoError(t, s.RunNow(context.Background(), "compaction"))
	assert.Less(t, countMessages(t, store, path.ID), 10)
}
