package engine

import "errors"

var (
	// ErrNoActiveConflict is returned when a resolution is requested for a
	// queue that is not blocked. Programmer error, never retried.
	ErrNoActiveConflict = errors.New("no active conflict to resolve")

	// ErrUnknownKind is returned when a record's entity kind has no
	// registered adapter.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrKindAlreadyRegistered guards against double adapter registration.
	ErrKindAlreadyRegistered = errors.New("entity kind already registered")

	// ErrAttemptsExhausted is surfaced when a record keeps being skipped
	// past the configured ceiling. The record stays pending for manual
	// retry; queued user data is never dropped.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)
