package maintenance

import "errors"

// Errors returned by the maintenance package.
var (
	// ErrAlreadyStarted is returned when Start() is called on an already started service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned when Stop() is called on a service that hasn't started.
	ErrNotStarted = errors.New("service not started")

	// ErrInvalidJobConfig is returned when a JobConfig cannot produce a valid compaction config.
	ErrInvalidJobConfig = errors.New("invalid job configuration")

	// ErrInvalidSchedule is returned for a schedule that is neither a duration nor a cron expression.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrDuplicateJob is returned when two scheduled jobs share a name.
	ErrDuplicateJob = errors.New("job already scheduled")
)
