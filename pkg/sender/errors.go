package sender

import "errors"

var (
	// ErrInvalidConfig is returned when a sender is constructed with
	// missing or malformed settings.
	ErrInvalidConfig = errors.New("invalid sender configuration")

	// ErrAddressRequired is returned when Send is called with an empty
	// destination address.
	ErrAddressRequired = errors.New("destination address is required")

	// ErrSendFailed is returned when the provider rejects or fails the
	// message.
	ErrSendFailed = errors.New("failed to send message")
)
