package preferences

import "errors"

var (
	// ErrPreferenceNotFound is returned when no preference exists for a
	// (user, category, channel) triple.
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrUserIDRequired is returned when a preference is missing its user id.
	ErrUserIDRequired = errors.New("user ID is required")

	// ErrStorageNil is returned when a resolver is created without storage.
	ErrStorageNil = errors.New("storage cannot be nil")
)
