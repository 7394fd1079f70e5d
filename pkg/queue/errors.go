package queue

import "errors"

var (
	// ErrStorageNil is returned when a nil storage is provided.
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload.
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrInvalidPriority is returned when priority is outside 1-4.
	ErrInvalidPriority = errors.New("priority must be between 1 (urgent) and 4 (low)")

	// ErrEnqueueFailed is returned when a job could not be stored.
	ErrEnqueueFailed = errors.New("failed to enqueue job")

	// ErrNoJobReady is returned by Claim when no eligible job exists.
	ErrNoJobReady = errors.New("no job ready to claim")

	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotCancellable is returned when cancelling a job that is no
	// longer pending.
	ErrNotCancellable = errors.New("job is not pending and cannot be cancelled")

	// ErrNoHandlers is returned when a worker starts with no handlers.
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrHandlerNotFound is returned when no handler matches a job name.
	ErrHandlerNotFound = errors.New("no handler registered for job name")
)
