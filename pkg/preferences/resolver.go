package preferences

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursekit/notify/pkg/notification"
)

// Resolver decides whether a notification is allowed to reach a user
// through a channel, materializing default preferences on first access.
type Resolver struct {
	storage Storage
	counter DailyCounter
	logger  *slog.Logger
	now     func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the Resolver.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDailyCounter enables MaxPerDay enforcement backed by the given counter.
func WithDailyCounter(counter DailyCounter) ResolverOption {
	return func(r *Resolver) {
		r.counter = counter
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a preference resolver backed by the given storage.
func NewResolver(storage Storage, opts ...ResolverOption) (*Resolver, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	r := &Resolver{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetUserPreferences returns the user's stored preferences, synthesizing
// and persisting the full default (category × channel) set on first call.
// The operation is idempotent: a second call returns the same rows and
// creates nothing new.
func (r *Resolver) GetUserPreferences(ctx context.Context, userID string) ([]Preference, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	stored, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences for user %s: %w", userID, err)
	}
	if len(stored) > 0 {
		return stored, nil
	}

	defaults := DefaultSet(userID)
	if err := r.storage.CreateBatch(ctx, defaults); err != nil {
		return nil, fmt.Errorf("failed to materialize default preferences for user %s: %w", userID, err)
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "materialized default preferences",
		slog.String("user_id", userID),
		slog.Int("count", len(defaults)))

	// Re-read instead of returning the synthesized slice: another caller
	// may have won the materialization race.
	return r.storage.ListByUser(ctx, userID)
}

// CheckNotificationAllowed reports whether a notification of the given
// category may be sent to the user through the given channel right now.
//
// The answer is false when the preference is disabled, its frequency is
// "never", the current local time falls inside the configured quiet-hours
// window (critical categories are exempt), or the user's daily cap is
// exhausted.
func (r *Resolver) CheckNotificationAllowed(ctx context.Context, userID string, category notification.Category, channel notification.Channel) (bool, error) {
	prefs, err := r.GetUserPreferences(ctx, userID)
	if err != nil {
		return false, err
	}

	var pref *Preference
	for i := range prefs {
		if prefs[i].Category == category && prefs[i].Channel == channel {
			pref = &prefs[i]
			break
		}
	}
	if pref == nil {
		// Unknown (category, channel) combination: nothing permits it.
		return false, nil
	}

	if !pref.Enabled || pref.Frequency == FrequencyNever {
		return false, nil
	}

	if !category.Critical() && r.inQuietHours(pref.Custom) {
		return false, nil
	}

	if r.counter != nil && pref.Custom.MaxPerDay > 0 {
		count, err := r.counter.Count(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("failed to read daily count for user %s: %w", userID, err)
		}
		if count >= pref.Custom.MaxPerDay {
			return false, nil
		}
	}

	return true, nil
}

// RecordSend counts one delivery against the user's daily cap.
func (r *Resolver) RecordSend(ctx context.Context, userID string) {
	if r.counter == nil {
		return
	}
	if _, err := r.counter.Incr(ctx, userID); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to record delivery against daily cap",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

// UpdatePreference upserts a preference keyed by (user, category, channel).
func (r *Resolver) UpdatePreference(ctx context.Context, pref Preference) error {
	if pref.UserID == "" {
		return ErrUserIDRequired
	}
	return r.storage.Upsert(ctx, pref)
}

// BulkUpdatePreferences upserts a batch of preferences. The first failure
// aborts the batch.
func (r *Resolver) BulkUpdatePreferences(ctx context.Context, prefs []Preference) error {
	for _, pref := range prefs {
		if err := r.UpdatePreference(ctx, pref); err != nil {
			return fmt.Errorf("failed to update preference (%s, %s, %s): %w",
				pref.UserID, pref.Category, pref.Channel, err)
		}
	}
	return nil
}

// inQuietHours reports whether the current local time falls inside the
// configured quiet window. Times are compared as "HH:MM" strings, which
// order correctly lexicographically. A start later than the end means the
// window crosses midnight: 22:00 to 08:00 suppresses late evening and
// early morning.
func (r *Resolver) inQuietHours(cs CustomSettings) bool {
	if cs.QuietHoursStart == "" || cs.QuietHoursEnd == "" {
		return false
	}

	loc := time.UTC
	if cs.Timezone != "" {
		if l, err := time.LoadLocation(cs.Timezone); err == nil {
			loc = l
		}
	}
	now := r.now().In(loc).Format("15:04")

	if cs.QuietHoursStart <= cs.QuietHoursEnd {
		return now >= cs.QuietHoursStart && now <= cs.QuietHoursEnd
	}
	// Window crosses midnight.
	return now >= cs.QuietHoursStart || now <= cs.QuietHoursEnd
}
