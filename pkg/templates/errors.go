package templates

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when no template matches a lookup.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMalformedTemplate is returned when a template body has
	// unbalanced conditional blocks.
	ErrMalformedTemplate = errors.New("malformed template")

	// ErrDefaultTemplate is returned when attempting to archive the
	// default template of a (category, locale) pair.
	ErrDefaultTemplate = errors.New("default template cannot be archived")

	// ErrStorageNil is returned when an engine is created without storage.
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrValidationFailed is returned when template variable validation
	// fails. Use errors.As to extract the *ValidationError detail.
	ErrValidationFailed = errors.New("template variable validation failed")
)

// ValidationError carries the individual variable validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template variable validation failed: %d error(s)", len(e.Errors))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
