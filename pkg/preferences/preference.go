package preferences

import (
	"time"

	"github.com/coursekit/notify/pkg/notification"
)

// Frequency controls how often notifications of a category may be
// delivered through a channel.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyNever     Frequency = "never"
)

// CustomSettings holds per-preference tuning knobs.
type CustomSettings struct {
	// Quiet hours are expressed as "HH:MM" strings in the user's
	// timezone. A window whose start is later than its end crosses
	// midnight (e.g. 22:00–08:00).
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	MaxPerDay       int    `json:"max_per_day,omitempty"`
}

// Preference is one user's setting for a (category, channel) pair.
// Unique per (UserID, Category, Channel).
type Preference struct {
	UserID   string                `json:"user_id"`
	Category notification.Category `json:"category"`
	Channel  notification.Channel  `json:"type"`

	Enabled   bool           `json:"enabled"`
	Frequency Frequency      `json:"frequency"`
	Custom    CustomSettings `json:"custom_settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	defaultQuietHoursStart = "22:00"
	defaultQuietHoursEnd   = "08:00"
)

// pushDefaultCategories are the only categories for which push is enabled
// by default. Everything else on push is opt-in.
var pushDefaultCategories = map[notification.Category]bool{
	notification.CategoryCourseEnrollment: true,
	notification.CategoryAssignmentDue:    true,
	notification.CategoryGradeAvailable:   true,
}

// DefaultPreference synthesizes the default preference for a
// (category, channel) pair. The policy:
//
//   - critical categories (password reset, payment due, system
//     maintenance) are always enabled;
//   - email defaults to enabled;
//   - sms defaults to disabled (opt-in);
//   - push defaults to enabled only for course enrollment, assignment due
//     and grade available, and always carries a 22:00–08:00 UTC quiet
//     window;
//   - every other combination defaults to enabled.
func DefaultPreference(userID string, category notification.Category, channel notification.Channel) Preference {
	p := Preference{
		UserID:    userID,
		Category:  category,
		Channel:   channel,
		Frequency: FrequencyImmediate,
	}

	switch {
	case category.Critical():
		p.Enabled = true
	case channel == notification.ChannelEmail:
		p.Enabled = true
	case channel == notification.ChannelSMS:
		p.Enabled = false
	case channel == notification.ChannelPush:
		p.Enabled = pushDefaultCategories[category]
	default:
		p.Enabled = true
	}

	if channel == notification.ChannelPush {
		p.Custom = CustomSettings{
			QuietHoursStart: defaultQuietHoursStart,
			QuietHoursEnd:   defaultQuietHoursEnd,
			Timezone:        "UTC",
		}
	}

	return p
}

// DefaultSet materializes the full (category × channel) cross-product of
// default preferences for a user.
func DefaultSet(userID string) []Preference {
	cats := notification.Categories()
	chans := notification.Channels()
	set := make([]Preference, 0, len(cats)*len(chans))
	for _, cat := range cats {
		for _, ch := range chans {
			set = append(set, DefaultPreference(userID, cat, ch))
		}
	}
	return set
}
