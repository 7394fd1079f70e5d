package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a queued job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Priority ranks jobs within a channel queue. Lower values are dispatched
// first: 1 is urgent, 4 is low.
type Priority int

const (
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 2
	PriorityNormal Priority = 3
	PriorityLow    Priority = 4
)

// Valid reports whether the priority is within the dispatchable range.
func (p Priority) Valid() bool {
	return p >= PriorityUrgent && p <= PriorityLow
}

// Job is one unit of channel work. Jobs are isolated per channel queue,
// become eligible once ReadyAt has passed, and within a channel dispatch
// by (priority, enqueue order).
type Job struct {
	ID      uuid.UUID `json:"id"`
	Channel string    `json:"channel"`
	Name    string    `json:"name"`
	Payload []byte    `json:"payload,omitempty"`

	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	ReadyAt     time.Time  `json:"ready_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
