package compaction

import (
	"errors"
	"fmt"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrNoMessagesToCompact indicates there are no messages eligible for compaction.
	ErrNoMessagesToCompact = errors.New("no messages to compact")

	// ErrSummarizationFailed indicates the summarization API call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrTokenCountingFailed indicates token counting failed.
	ErrTokenCountingFailed = errors.New("token counting failed")
)

// CompactionError provides structured error context for compaction operations.
// It matches types.ErrCompactionFailure as well as its cause.
type CompactionError struct {
	// Op is the operation that failed (e.g., "Plan", "Summarize", "CountTokens")
	Op string

	// PathID is the path being compacted if applicable
	PathID string

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *CompactionError) Error() string {
	msg := fmt.Sprintf("compaction %s failed", e.Op)
	if e.PathID != "" {
		msg += fmt.Sprintf(" for path %s", e.PathID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the taxonomy kind and the underlying error.
func (e *CompactionError) Unwrap() []error {
	if e.Err == nil {
		return []error{types.ErrCompactionFailure}
	}
	return []error{types.ErrCompactionFailure, e.Err}
}

// NewCompactionError creates a new CompactionError with the given operation and underlying error.
func NewCompactionError(op string, err error) *CompactionError {
	return &CompactionError{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithPath sets the path ID on the error and returns the error for chaining.
func (e *CompactionError) WithPath(pathID string) *CompactionError {
	e.PathID = pathID
	return e
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WrapError wraps an error with operation context. If err is nil, returns nil.
// Errors that already carry a taxonomy kind are returned unchanged.
func WrapError(op, pathID string, err error) error {
	if err == nil {
		return nil
	}
	if types.KindOf(err) != nil {
		return err
	}
	return NewCompactionError(op, err).WithPath(pathID)
}
