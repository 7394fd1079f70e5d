package preferences

import (
	"context"

	"github.com/coursekit/notify/pkg/notification"
)

// Storage persists user preferences.
type Storage interface {
	// ListByUser returns all stored preferences for a user. An empty
	// slice means the user has never been materialized.
	ListByUser(ctx context.Context, userID string) ([]Preference, error)

	// Get returns the preference for a (user, category, channel) triple.
	Get(ctx context.Context, userID string, category notification.Category, channel notification.Channel) (*Preference, error)

	// Upsert creates or replaces a preference keyed by
	// (user, category, channel).
	Upsert(ctx context.Context, pref Preference) error

	// CreateBatch stores a set of preferences, skipping any
	// (user, category, channel) key that already exists. Existing rows
	// are never overwritten so concurrent materialization stays
	// idempotent.
	CreateBatch(ctx context.Context, prefs []Preference) error
}

// DailyCounter tracks how many notifications a user received today,
// backing the per-preference MaxPerDay cap.
type DailyCounter interface {
	// Incr records one delivery for the user and returns the new count
	// for the current day.
	Incr(ctx context.Context, userID string) (int, error)

	// Count returns how many deliveries the user received today.
	Count(ctx context.Context, userID string) (int, error)
}
