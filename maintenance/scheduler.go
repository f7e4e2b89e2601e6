package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
)

// ScheduledJob is a named unit of periodic work.
type ScheduledJob struct {
	Name string

	// Schedule is either a Go duration ("15m") or a five-field cron
	// expression ("0 3 * * *").
	Schedule string

	Run func(ctx context.Context) error
}

// LeaderChecker reports whether this instance currently holds leadership.
// *leadership.Elector satisfies it.
type LeaderChecker interface {
	IsLeader() bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Location is the time zone cron expressions are evaluated in.
	// Default: UTC
	Location *time.Location

	// Leader gates every run. Jobs are skipped while it reports false.
	// When nil every run proceeds.
	Leader LeaderChecker

	Metrics *metrics.Metrics
	Logger  convpath.Logger
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule is a positive duration or a
// valid cron expression.
func ValidateSchedule(schedule string) error {
	if d, err := time.ParseDuration(schedule); err == nil {
		if d <= 0 {
			return fmt.Errorf("%w: duration must be positive: %q", ErrInvalidSchedule, schedule)
		}
		return nil
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, schedule, err)
	}
	return nil
}

// Scheduler runs maintenance jobs on their schedules. Each job runs at most
// once at a time; a run that overlaps the next tick is rescheduled.
type Scheduler struct {
	config *SchedulerConfig
	sched  gocron.Scheduler

	mu   sync.Mutex
	jobs map[string]ScheduledJob

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler. A nil config uses UTC with no
// leadership gate.
func NewScheduler(config *SchedulerConfig) (*Scheduler, error) {
	if config == nil {
		config = &SchedulerConfig{}
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = noopLogger{}
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(config.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: config,
		sched:  sched,
		jobs:   make(map[string]ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Add registers job. Jobs may be added before or after Start.
func (s *Scheduler) Add(job ScheduledJob) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run function", ErrInvalidJobConfig)
	}
	if err := ValidateSchedule(job.Schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	var def gocron.JobDefinition
	if d, err := time.ParseDuration(job.Schedule); err == nil {
		def = gocron.DurationJob(d)
	} else {
		def = gocron.CronJob(job.Schedule, false)
	}

	_, err := s.sched.NewJob(
		def,
		gocron.NewTask(func() { s.execute(s.ctx, job) }),
		gocron.WithName(job.Name),
		gocron.WithTags("maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}

	s.jobs[job.Name] = job
	s.config.Logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// RunNow runs the named job synchronously, subject to the leadership gate.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not scheduled", name)
	}
	return s.execute(ctx, job)
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.sched.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.started.Store(false)
	return nil
}

// IsRunning returns true if the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	return s.started.Load()
}

func (s *Scheduler) execute(ctx context.Context, job ScheduledJob) (err error) {
	if s.config.Leader != nil && !s.config.Leader.IsLeader() {
		s.config.Metrics.RecordJobRun(job.Name, metrics.OutcomeSkipped, 0)
		s.config.Logger.Debug("job skipped, not leader", "job", job.Name)
		return nil
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
			s.config.Logger.Error("job failed", "job", job.Name, "error", err)
		} else {
			s.config.Logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
		}
		s.config.Metrics.RecordJobRun(job.Name, outcome, time.Since(start))
	}()

	return job.Run(ctx)
}

// ScheduledJob returns the sweep as a job for Scheduler.
func (j *CompactionJob) ScheduledJob(name, schedule string) ScheduledJob {
	return ScheduledJob{
		Name:     name,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := j.Run(ctx)
			return err
		},
	}
}
