package convpath

import (
	"errors"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// ErrInvalidConfig is returned by New when the configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error kinds returned by every Client method. Match them with errors.Is.
var (
	ErrNotFound            = types.ErrNotFound
	ErrInvalidState        = types.ErrInvalidState
	ErrConcurrencyConflict = types.ErrConcurrencyConflict
	ErrCompactionFailure   = types.ErrCompactionFailure
	ErrTransportFailure    = types.ErrTransportFailure
)

// IsRetryable reports whether the failed operation can be retried as a whole.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}
