package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerStorage is the storage contract for job creation.
type EnqueuerStorage interface {
	Push(ctx context.Context, job *Job) error
}

// Enqueuer places jobs on channel queues.
type Enqueuer struct {
	storage         EnqueuerStorage
	defaultPriority Priority
	maxAttempts     int
	now             func() time.Time
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithDefaultPriority sets the priority used when none is given.
func WithDefaultPriority(p Priority) EnqueuerOption {
	return func(e *Enqueuer) {
		if p.Valid() {
			e.defaultPriority = p
		}
	}
}

// WithDefaultMaxAttempts sets the retry budget applied to new jobs.
func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithEnqueuerClock overrides the time source. Intended for tests.
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(e *Enqueuer) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnqueuer creates an Enqueuer backed by the given storage.
func NewEnqueuer(storage EnqueuerStorage, opts ...EnqueuerOption) (*Enqueuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	e := &Enqueuer{
		storage:         storage,
		defaultPriority: PriorityNormal,
		maxAttempts:     3,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	jobID       uuid.UUID
	priority    Priority
	delay       time.Duration
	maxAttempts int
}

// WithJobID pins the job id instead of generating one. Lets callers use a
// domain id (e.g. the delivery id) so the job can be cancelled later
// without keeping a separate mapping.
func WithJobID(id uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) {
		o.jobID = id
	}
}

// WithPriority sets the job priority (1 urgent … 4 low).
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

// WithDelay defers job eligibility by the given duration. Negative delays
// are treated as zero.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithMaxAttempts overrides the retry budget for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Enqueue places a job on the named channel queue and returns its id.
func (e *Enqueuer) Enqueue(ctx context.Context, channel, name string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		priority:    e.defaultPriority,
		maxAttempts: e.maxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	id := options.jobID
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := e.now()
	job := &Job{
		ID:          id,
		Channel:     channel,
		Name:        name,
		Payload:     body,
		Status:      StatusPending,
		Priority:    options.priority,
		MaxAttempts: options.maxAttempts,
		EnqueuedAt:  now,
		ReadyAt:     now.Add(options.delay),
	}

	if err := e.storage.Push(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("%w: channel %q: %v", ErrEnqueueFailed, channel, err)
	}
	return id, nil
}

// BulkEnqueue places a set of payloads on the same channel queue with
// shared options. The first storage failure aborts the batch; already
// enqueued ids are returned alongside the error.
func (e *Enqueuer) BulkEnqueue(ctx context.Context, channel, name string, payloads []any, opts ...EnqueueOption) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(payloads))
	for _, payload := range payloads {
		id, err := e.Enqueue(ctx, channel, name, payload, opts...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
