package chat

import "errors"

var (
	// ErrValidation marks client-caused failures (missing field, unknown action). Not retryable.
	ErrValidation = errors.New("chat: validation failed")

	// ErrUnknownEvent marks an event kind the service does not route.
	ErrUnknownEvent = errors.New("chat: unrecognized event type")

	// ErrStorageUnavailable marks a persistence collaborator that could not be reached.
	// Callers must not assume the mutation happened.
	ErrStorageUnavailable = errors.New("chat: storage unavailable")

	// ErrConnectionGone is the expected per-target push failure: the transport session ended.
	ErrConnectionGone = errors.New("chat: connection gone")

	// ErrNoTransport is returned when the outbound transport is not configured.
	ErrNoTransport = errors.New("chat: outbound transport not configured")
)
