package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the store, the client and the
// compaction engine matches exactly one of these through errors.Is.
var (
	// ErrNotFound indicates a missing conversation, path, message or snapshot.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates a request that would break a graph or sequence invariant.
	ErrInvalidState = errors.New("invalid state")

	// ErrConcurrencyConflict indicates lock contention or a failed atomic write.
	// The whole operation is safe to retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrCompactionFailure indicates the summarizer or tokenizer failed.
	// Data is left untouched.
	ErrCompactionFailure = errors.New("compaction failure")

	// ErrTransportFailure indicates the underlying store is unreachable.
	ErrTransportFailure = errors.New("transport failure")
)

// Error carries the operation and the resource an error is about.
type Error struct {
	// Op is the operation that failed (e.g., "CreateBranch", "AppendMessage")
	Op string

	// Kind is one of the sentinel kinds above
	Kind error

	// Resource names the entity type, e.g. "path" or "message"
	Resource string

	// ID is the entity id if applicable
	ID string

	// Err is the underlying error, may be nil
	Err error
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = "operation"
	}
	msg += ": " + e.Kind.Error()
	if e.Resource != "" {
		msg += ": " + e.Resource
		if e.ID != "" {
			msg += " " + e.ID
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds an ErrNotFound error.
func NotFound(op, resource, id string) error {
	return &Error{Op: op, Kind: ErrNotFound, Resource: resource, ID: id}
}

// InvalidState builds an ErrInvalidState error with a reason.
func InvalidState(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrInvalidState, Err: fmt.Errorf(format, args...)}
}

// Conflict builds an ErrConcurrencyConflict error.
func Conflict(op, resource, id string, err error) error {
	return &Error{Op: op, Kind: ErrConcurrencyConflict, Resource: resource, ID: id, Err: err}
}

// CompactionFailed builds an ErrCompactionFailure error.
func CompactionFailed(op, pathID string, err error) error {
	return &Error{Op: op, Kind: ErrCompactionFailure, Resource: "path", ID: pathID, Err: err}
}

// Transport builds an ErrTransportFailure error.
func Transport(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransportFailure, Err: err}
}

// IsRetryable reports whether the whole operation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrTransportFailure)
}

// KindOf returns the taxonomy kind of err, or nil if it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrConcurrencyConflict, ErrCompactionFailure, ErrTransportFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
