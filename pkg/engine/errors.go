package engine

import "errors"

var (
	// ErrStorageNil is returned when a nil delivery store is provided.
	ErrStorageNil = errors.New("delivery store cannot be nil")

	// ErrDirectoryNil is returned when a nil user directory is provided.
	ErrDirectoryNil = errors.New("user directory cannot be nil")

	// ErrDeliveryNotFound is returned when a delivery id is unknown.
	ErrDeliveryNotFound = errors.New("delivery not found")

	// ErrUserNotFound is returned when the user directory has no record
	// for the requested id.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoAddress is returned when the user has no address for the
	// requested channel.
	ErrNoAddress = errors.New("user has no address for channel")

	// ErrNoContent is returned when a payload has neither content nor a
	// resolvable template.
	ErrNoContent = errors.New("payload has no content and no template matched")

	// ErrSenderNotConfigured is returned by the delivery handler when no
	// sender exists for the job's channel.
	ErrSenderNotConfigured = errors.New("no sender configured for channel")

	// ErrNotCancellable is returned when the delivery's queued job has
	// already started or finished.
	ErrNotCancellable = errors.New("delivery is no longer cancellable")

	// ErrNotExecutable is returned when a delivery that is no longer
	// pending is forced out early.
	ErrNotExecutable = errors.New("delivery is no longer executable")

	// ErrInvalidRule is returned when an automation rule fails validation.
	ErrInvalidRule = errors.New("invalid automation rule")
)
