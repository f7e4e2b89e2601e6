package notifier

import "errors"

// Errors returned by the notifier package.
var (
	// ErrAlreadyStarted is returned when Start() is called on an already started notifier.
	ErrAlreadyStarted = errors.New("notifier already started")

	// ErrNotStarted is returned when Stop() is called on a notifier that hasn't started.
	ErrNotStarted = errors.New("notifier not started")

	// ErrUnknownEventType is returned when an event without a kind is published.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrListenNotSupported is returned by Receive when the driver cannot hold a LISTEN connection.
	ErrListenNotSupported = errors.New("listen not supported")
)
