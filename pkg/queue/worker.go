package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one claimed job. Returning an error records a failed
// attempt; the job retries with backoff until its attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

// Worker polls channel queues and dispatches claimed jobs to handlers
// registered by job name.
type Worker struct {
	storage     WorkerStorage
	channels    []string
	handlers    map[string]Handler
	concurrency int
	interval    time.Duration
	log         *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency caps the number of jobs processed at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets how long the worker sleeps when no job is ready.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWorkerLogger sets the logger used for job lifecycle events.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorker creates a worker that claims jobs from the given channels.
func NewWorker(storage WorkerStorage, channels []string, opts ...WorkerOption) (*Worker, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	w := &Worker{
		storage:     storage,
		channels:    channels,
		handlers:    make(map[string]Handler),
		concurrency: 4,
		interval:    time.Second,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handle registers a handler for a job name. Registering the same name
// twice replaces the previous handler.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Run polls for jobs until the context is cancelled. It blocks, so run it
// in its own goroutine. In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return ErrNoHandlers
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.storage.Claim(ctx, w.channels)
		if err != nil {
			if !errors.Is(err, ErrNoJobReady) {
				w.log.ErrorContext(ctx, "claim failed", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.interval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			// Give the claimed job back untouched so a restart does
			// not eat into its attempt budget.
			_ = w.storage.Release(context.WithoutCancel(ctx), job.ID)
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.log.With(
		slog.String("job_id", job.ID.String()),
		slog.String("channel", job.Channel),
		slog.String("name", job.Name),
		slog.Int("attempt", job.Attempts+1),
	)

	handler, ok := w.handlers[job.Name]
	if !ok {
		log.ErrorContext(ctx, "no handler for job")
		_ = w.storage.Fail(ctx, job.ID, ErrHandlerNotFound.Error())
		return
	}

	err := w.run(ctx, handler, job)
	if err != nil {
		log.ErrorContext(ctx, "job failed", slog.String("error", err.Error()))
		if failErr := w.storage.Fail(ctx, job.ID, err.Error()); failErr != nil {
			log.ErrorContext(ctx, "recording failure", slog.String("error", failErr.Error()))
		}
		return
	}

	if err := w.storage.Complete(ctx, job.ID); err != nil {
		log.ErrorContext(ctx, "recording completion", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "job completed")
}

// run invokes the handler with panic recovery so one bad job cannot take
// the worker down.
func (w *Worker) run(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
