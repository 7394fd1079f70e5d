package notification

import (
	"time"
)

// Status represents the lifecycle state of a delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions may leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusBounced, StatusCancelled, StatusClicked:
		return true
	}
	return false
}

// rank orders the forward progression of the happy path. Failure states
// have no rank; they are reachable from any non-terminal state.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusOpened:
		return 3
	case StatusClicked:
		return 4
	}
	return -1
}

// CanTransition reports whether a delivery may move from one status to
// another. The lifecycle is monotonic: the happy path only moves forward,
// failures (failed/bounced) are reachable from any non-terminal state, and
// cancellation is only possible while still pending.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusFailed, StatusBounced:
		return true
	case StatusCancelled:
		return from == StatusPending
	case StatusPending:
		return false
	default:
		return to.rank() > from.rank()
	}
}

// Delivery tracks one notification instance sent to one user via one
// channel through its full status lifecycle. Owned exclusively by the
// engine; mutated only through ApplyStatus.
type Delivery struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Channel  Channel  `json:"channel"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Content is snapshotted at send time so later template edits never
	// change what was actually delivered.
	Content Content `json:"content"`

	CampaignID string `json:"campaign_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"` // provider message id once sent

	ScheduledAt   time.Time  `json:"scheduled_at"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	RetryCount    int        `json:"retry_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ApplyStatus advances the delivery to the given status, stamping the
// matching timestamp. Invalid or backward transitions are a no-op and
// return false so that duplicate or out-of-order worker updates are
// tolerated rather than treated as errors.
func (d *Delivery) ApplyStatus(to Status, at time.Time) bool {
	if !CanTransition(d.Status, to) {
		return false
	}
	d.Status = to
	switch to {
	case StatusSent:
		d.SentAt = &at
	case StatusDelivered:
		d.DeliveredAt = &at
	case StatusOpened:
		d.OpenedAt = &at
	case StatusClicked:
		d.ClickedAt = &at
	}
	return true
}

// IsExpired reports whether the delivery has passed its expiry time.
func (d *Delivery) IsExpired() bool {
	if d.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*d.ExpiresAt)
}
