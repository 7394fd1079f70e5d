package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/notify/pkg/queue"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T, clock *testClock) (*queue.MemoryQueue, *queue.Enqueuer) {
	t.Helper()
	q := queue.NewMemoryQueue(queue.WithQueueClock(clock.Now))
	enq, err := queue.NewEnqueuer(q, queue.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)
	return q, enq
}

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	lowID, err := enq.Enqueue(ctx, "email", "deliver", "low", queue.WithPriority(queue.PriorityLow))
	require.NoError(t, err)
	normalID, err := enq.Enqueue(ctx, "email", "deliver", "normal", queue.WithPriority(queue.PriorityNormal))
	require.NoError(t, err)
	urgentID, err := enq.Enqueue(ctx, "email", "deliver", "urgent", queue.WithPriority(queue.PriorityUrgent))
	require.NoError(t, err)

	// The urgent job is claimed first despite being enqueued last.
	first, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, urgentID, first.ID)

	second, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, normalID, second.ID)

	third, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, lowID, third.ID)

	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
}

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	var want []uuid.UUID
	for range 5 {
		id, err := enq.Enqueue(ctx, "push", "deliver", "payload")
		require.NoError(t, err)
		want = append(want, id)
	}

	for i, wantID := range want {
		job, err := q.Claim(ctx, []string{"push"})
		require.NoError(t, err)
		assert.Equal(t, wantID, job.ID, "claim %d out of order", i)
	}
}

func TestMemoryQueue_ChannelIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	emailID, err := enq.Enqueue(ctx, "email", "deliver", "e", queue.WithPriority(queue.PriorityLow))
	require.NoError(t, err)
	_, err = enq.Enqueue(ctx, "sms", "deliver", "s", queue.WithPriority(queue.PriorityUrgent))
	require.NoError(t, err)

	// Claiming only the email channel never sees the sms job.
	job, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, emailID, job.ID)

	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
}

func TestMemoryQueue_DelayedEligibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newTestClock()
	q, enq := newQueue(t, clock)

	id, err := enq.Enqueue(ctx, "email", "deliver", "later", queue.WithDelay(time.Hour))
	require.NoError(t, err)

	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)

	clock.Advance(time.Hour + time.Second)

	job, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
}

func TestMemoryQueue_RetryBackoffThenFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newTestClock()
	q := queue.NewMemoryQueue(
		queue.WithQueueClock(clock.Now),
		queue.WithRetryBackoff(time.Minute),
	)
	enq, err := queue.NewEnqueuer(q, queue.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	id, err := enq.Enqueue(ctx, "email", "deliver", "flaky", queue.WithMaxAttempts(3))
	require.NoError(t, err)

	// Attempt 1 fails: retried after 1m.
	_, err = q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "smtp timeout"))

	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
	clock.Advance(time.Minute + time.Second)

	// Attempt 2 fails: backoff doubles to 2m.
	_, err = q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "smtp timeout"))

	clock.Advance(time.Minute + time.Second)
	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
	clock.Advance(time.Minute)

	// Attempt 3 fails: the budget is spent, the job stays failed.
	_, err = q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "smtp timeout"))

	job, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "smtp timeout", job.Error)

	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
}

func TestMemoryQueue_ReleaseKeepsAttemptBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	id, err := enq.Enqueue(ctx, "email", "deliver", "x")
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	require.NoError(t, q.Release(ctx, id))

	job, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)

	// The released job is immediately claimable again.
	again, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)

	assert.ErrorIs(t, q.Release(ctx, uuid.New()), queue.ErrJobNotFound)
}

func TestMemoryQueue_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	id, err := enq.Enqueue(ctx, "email", "deliver", "cancel me")
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, id))

	job, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusCancelled, job.Status)

	// Cancelled jobs are never claimed.
	_, err = q.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)

	// Cancelling again or after terminal state is rejected.
	assert.ErrorIs(t, q.Cancel(ctx, id), queue.ErrNotCancellable)
	assert.ErrorIs(t, q.Cancel(ctx, uuid.New()), queue.ErrJobNotFound)
}

func TestMemoryQueue_CancelProcessingRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	id, err := enq.Enqueue(ctx, "email", "deliver", "busy")
	require.NoError(t, err)

	_, err = q.Claim(ctx, []string{"email"})
	require.NoError(t, err)

	assert.ErrorIs(t, q.Cancel(ctx, id), queue.ErrNotCancellable)
}

func TestEnqueuer_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, enq := newQueue(t, newTestClock())

	_, err := enq.Enqueue(ctx, "email", "deliver", nil)
	assert.ErrorIs(t, err, queue.ErrPayloadNil)

	_, err = enq.Enqueue(ctx, "email", "deliver", "x", queue.WithPriority(queue.Priority(9)))
	assert.ErrorIs(t, err, queue.ErrInvalidPriority)

	_, err = queue.NewEnqueuer(nil)
	assert.ErrorIs(t, err, queue.ErrStorageNil)
}

func TestEnqueuer_WithJobID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	pinned := uuid.New()
	id, err := enq.Enqueue(ctx, "email", "deliver", "x", queue.WithJobID(pinned))
	require.NoError(t, err)
	assert.Equal(t, pinned, id)

	// Reusing an id is an enqueue failure, not a silent overwrite.
	_, err = enq.Enqueue(ctx, "email", "deliver", "y", queue.WithJobID(pinned))
	assert.ErrorIs(t, err, queue.ErrEnqueueFailed)

	_, ok := q.Job(pinned)
	assert.True(t, ok)
}

func TestEnqueuer_BulkEnqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, enq := newQueue(t, newTestClock())

	ids, err := enq.BulkEnqueue(ctx, "email", "deliver", []any{"a", "b", "c"}, queue.WithPriority(queue.PriorityHigh))
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// Batch members keep their enqueue order within the shared priority.
	for _, want := range ids {
		job, err := q.Claim(ctx, []string{"email"})
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, queue.PriorityHigh, job.Priority)
	}
}

func TestWorker_ProcessesJobs(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan uuid.UUID, 1)
	w, err := queue.NewWorker(q, []string{"email"}, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	w.Handle("deliver", func(ctx context.Context, job *queue.Job) error {
		done <- job.ID
		return nil
	})

	go func() { _ = w.Run(ctx) }()

	id, err := enq.Enqueue(ctx, "email", "deliver", "hello")
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	// Completion is recorded by the worker.
	require.Eventually(t, func() bool {
		job, ok := q.Job(id)
		return ok && job.Status == queue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_HandlerErrorRecordsFailure(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue(queue.WithRetryBackoff(time.Hour))
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := queue.NewWorker(q, []string{"sms"}, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	w.Handle("deliver", func(ctx context.Context, job *queue.Job) error {
		return errors.New("provider unavailable")
	})

	go func() { _ = w.Run(ctx) }()

	id, err := enq.Enqueue(ctx, "sms", "deliver", "x")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := q.Job(id)
		return ok && job.Attempts == 1
	}, 2*time.Second, 10*time.Millisecond)

	job, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, "provider unavailable", job.Error)
}

func TestWorker_RequiresHandlers(t *testing.T) {
	t.Parallel()

	w, err := queue.NewWorker(queue.NewMemoryQueue(), []string{"email"})
	require.NoError(t, err)
	assert.ErrorIs(t, w.Run(context.Background()), queue.ErrNoHandlers)
}
