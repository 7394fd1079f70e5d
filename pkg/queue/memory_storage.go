package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerStorage is the storage contract for job consumption.
type WorkerStorage interface {
	// Claim atomically claims the next eligible job across the given
	// channels, or returns ErrNoJobReady.
	Claim(ctx context.Context, channels []string) (*Job, error)

	// Complete marks a processing job as completed.
	Complete(ctx context.Context, jobID uuid.UUID) error

	// Fail records a failed attempt. Jobs with attempts left are
	// rescheduled with exponential backoff; exhausted jobs become failed.
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// Release returns a claimed job to the queue without consuming an
	// attempt, e.g. when the worker shuts down before processing it.
	Release(ctx context.Context, jobID uuid.UUID) error

	// Cancel removes a still-pending job from the queue.
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// Storage combines the producer and consumer contracts.
type Storage interface {
	EnqueuerStorage
	WorkerStorage
}

// jobEntry wraps a job with its FIFO sequence number.
type jobEntry struct {
	job *Job
	seq uint64
}

// readyHeap orders eligible jobs by (priority, enqueue sequence): lower
// priority value first, earlier enqueue first within a priority tier.
type readyHeap []*jobEntry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)         { *h = append(*h, x.(*jobEntry)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// delayHeap orders delayed jobs by ready time so due jobs surface cheaply.
type delayHeap []*jobEntry

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].job.ReadyAt.Before(h[j].job.ReadyAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)         { *h = append(*h, x.(*jobEntry)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

type channelQueue struct {
	ready   readyHeap
	delayed delayHeap
}

// MemoryQueue is an in-memory Storage implementation: one logical queue
// per channel, each fed by a delay scheduler (min-heap on ready time)
// releasing jobs into a priority queue (binary heap on priority and
// enqueue order).
type MemoryQueue struct {
	mu       sync.Mutex
	channels map[string]*channelQueue
	jobs     map[uuid.UUID]*Job
	seq      uint64

	retryBase time.Duration
	now       func() time.Time
}

// MemoryQueueOption configures a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithRetryBackoff sets the base delay for retry backoff. The n-th retry
// waits base * 2^(n-1).
func WithRetryBackoff(base time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if base > 0 {
			q.retryBase = base
		}
	}
}

// WithQueueClock overrides the time source. Intended for tests.
func WithQueueClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		channels:  make(map[string]*channelQueue),
		jobs:      make(map[uuid.UUID]*Job),
		retryBase: 30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) channel(name string) *channelQueue {
	cq, ok := q.channels[name]
	if !ok {
		cq = &channelQueue{}
		q.channels[name] = cq
	}
	return cq
}

// Push implements EnqueuerStorage.
func (q *MemoryQueue) Push(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrPayloadNil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.ID]; exists {
		return ErrEnqueueFailed
	}

	jobCopy := *job
	q.jobs[job.ID] = &jobCopy

	q.seq++
	entry := &jobEntry{job: &jobCopy, seq: q.seq}

	cq := q.channel(job.Channel)
	if jobCopy.ReadyAt.After(q.now()) {
		heap.Push(&cq.delayed, entry)
	} else {
		heap.Push(&cq.ready, entry)
	}
	return nil
}

// promote moves due delayed jobs into the ready heap. Jobs released from
// the delay scheduler keep their original enqueue order within their
// priority tier.
func (q *MemoryQueue) promote(cq *channelQueue) {
	now := q.now()
	for cq.delayed.Len() > 0 && !cq.delayed[0].job.ReadyAt.After(now) {
		entry := heap.Pop(&cq.delayed).(*jobEntry)
		heap.Push(&cq.ready, entry)
	}
}

// Claim implements WorkerStorage. The best eligible job across the
// requested channels wins: lowest priority value first, FIFO within a
// priority.
func (q *MemoryQueue) Claim(ctx context.Context, channels []string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *channelQueue
	for _, name := range channels {
		cq, ok := q.channels[name]
		if !ok {
			continue
		}
		q.promote(cq)
		// Skip cancelled entries that were left in the heap.
		for cq.ready.Len() > 0 && cq.ready[0].job.Status != StatusPending {
			heap.Pop(&cq.ready)
		}
		if cq.ready.Len() == 0 {
			continue
		}
		if best == nil || readyLess(cq.ready[0], best.ready[0]) {
			best = cq
		}
	}
	if best == nil {
		return nil, ErrNoJobReady
	}

	entry := heap.Pop(&best.ready).(*jobEntry)
	entry.job.Status = StatusProcessing

	jobCopy := *entry.job
	return &jobCopy, nil
}

func readyLess(a, b *jobEntry) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	return a.seq < b.seq
}

// Complete implements WorkerStorage.
func (q *MemoryQueue) Complete(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	now := q.now()
	job.Status = StatusCompleted
	job.ProcessedAt = &now
	return nil
}

// Fail implements WorkerStorage. Jobs with attempts remaining go back on
// the delay scheduler with exponential backoff; exhausted jobs stay failed.
func (q *MemoryQueue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	job.Attempts++
	job.Error = errMsg

	if job.Attempts >= job.MaxAttempts {
		now := q.now()
		job.Status = StatusFailed
		job.ProcessedAt = &now
		return nil
	}

	job.Status = StatusPending
	job.ReadyAt = q.now().Add(q.retryBase << (job.Attempts - 1))

	q.seq++
	heap.Push(&q.channel(job.Channel).delayed, &jobEntry{job: job, seq: q.seq})
	return nil
}

// Release implements WorkerStorage. The job goes back on the ready heap
// with its attempt count untouched, behind jobs of the same priority.
func (q *MemoryQueue) Release(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		return nil
	}

	job.Status = StatusPending
	q.seq++
	heap.Push(&q.channel(job.Channel).ready, &jobEntry{job: job, seq: q.seq})
	return nil
}

// Cancel implements WorkerStorage. Only still-pending jobs can be
// cancelled; the heap entry is dropped lazily on the next Claim.
func (q *MemoryQueue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusPending {
		return ErrNotCancellable
	}
	job.Status = StatusCancelled
	return nil
}

// Job returns a copy of a stored job for inspection.
func (q *MemoryQueue) Job(jobID uuid.UUID) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	jobCopy := *job
	return &jobCopy, true
}
