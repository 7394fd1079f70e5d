package notification

import (
	"time"
)

// Channel represents the transport used to notify a user.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelInApp}
}

// Valid reports whether the channel is one of the supported transports.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelInApp:
		return true
	}
	return false
}

// Category classifies what a notification is about. Categories drive
// preference defaults, template selection and automation rules.
type Category string

const (
	CategoryCourseEnrollment  Category = "course_enrollment"
	CategoryCourseCompleted   Category = "course_completed"
	CategoryAssignmentDue     Category = "assignment_due"
	CategoryGradeAvailable    Category = "grade_available"
	CategoryCertificateEarned Category = "certificate_earned"
	CategoryUserInactive      Category = "user_inactive"
	CategoryPasswordReset     Category = "password_reset"
	CategoryPaymentDue        Category = "payment_due"
	CategoryPaymentFailed     Category = "payment_failed"
	CategorySystemMaintenance Category = "system_maintenance"
	CategoryAnnouncement      Category = "announcement"
)

// Categories lists every known notification category.
func Categories() []Category {
	return []Category{
		CategoryCourseEnrollment,
		CategoryCourseCompleted,
		CategoryAssignmentDue,
		CategoryGradeAvailable,
		CategoryCertificateEarned,
		CategoryUserInactive,
		CategoryPasswordReset,
		CategoryPaymentDue,
		CategoryPaymentFailed,
		CategorySystemMaintenance,
		CategoryAnnouncement,
	}
}

// Critical reports whether the category must always reach the user.
// Critical categories bypass quiet hours and cannot be disabled by defaults.
func (c Category) Critical() bool {
	switch c {
	case CategoryPasswordReset, CategoryPaymentDue, CategorySystemMaintenance:
		return true
	}
	return false
}

// Priority represents the dispatch priority of a notification.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// QueueValue maps the priority to its numeric queue rank.
// Lower values are dispatched first.
func (p Priority) QueueValue() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// Action represents a call-to-action attached to a notification.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
	Style string `json:"style,omitempty"` // primary, secondary, danger
}

// Content is the material delivered to the user. Either provided verbatim
// by the caller or produced by the template engine.
type Content struct {
	Subject string         `json:"subject,omitempty"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	HTML    string         `json:"html,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
}

// Scheduling controls deferred delivery.
type Scheduling struct {
	SendAt   *time.Time `json:"send_at,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

// Tracking configures engagement tracking for a delivery.
type Tracking struct {
	TrackOpens  bool   `json:"track_opens,omitempty"`
	TrackClicks bool   `json:"track_clicks,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
}

// Payload is the request to send a single notification to one user
// through one channel.
type Payload struct {
	UserID   string   `json:"user_id"`
	Channel  Channel  `json:"channel"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`

	// Content is used verbatim when set. When TemplateID is set, or when
	// Content is empty and a template exists for the category, the
	// template engine produces the content instead.
	Content      Content        `json:"content"`
	TemplateID   string         `json:"template_id,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`

	Scheduling Scheduling `json:"scheduling,omitempty"`
	Tracking   Tracking   `json:"tracking,omitempty"`
}

// BulkPayload fans a notification out over a set of users and channels.
type BulkPayload struct {
	UserIDs  []string  `json:"user_ids"`
	Channels []Channel `json:"channels"`

	Category Category `json:"category"`
	Priority Priority `json:"priority"`

	Content      Content        `json:"content"`
	TemplateID   string         `json:"template_id,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`

	Scheduling Scheduling `json:"scheduling,omitempty"`
	Tracking   Tracking   `json:"tracking,omitempty"`
}
