package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNameRequired is returned when subscribing or publishing without an
// event name.
var ErrNameRequired = errors.New("event name is required")

// Event is one platform occurrence: a user enrolled, a payment failed.
// Data carries event-specific fields consumed by handlers.
type Event struct {
	Name       string
	OccurredAt time.Time
	Data       map[string]any
}

// Handler reacts to one published event. Handler errors are logged, not
// propagated: publishing never fails because a listener did.
type Handler func(ctx context.Context, evt Event) error

// Bus is an in-process publish/subscribe dispatcher keyed by event name.
// By default handlers run in their own goroutines; synchronous mode runs
// them inline, which tests rely on for determinism.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	sync     bool
	log      *slog.Logger
	wg       sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSyncDispatch makes Publish run handlers inline before returning.
func WithSyncDispatch() BusOption {
	return func(b *Bus) { b.sync = true }
}

// WithBusLogger sets the logger for handler errors and panics.
func WithBusLogger(log *slog.Logger) BusOption {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event name. Multiple handlers per
// name run in registration order.
func (b *Bus) Subscribe(name string, h Handler) error {
	if name == "" {
		return ErrNameRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// Publish dispatches the event to every handler subscribed to its name.
// Events with no subscribers are dropped silently.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.Name == "" {
		return ErrNameRequired
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := b.handlers[evt.Name]
	b.mu.RUnlock()

	for _, h := range handlers {
		if b.sync {
			b.dispatch(ctx, h, evt)
			continue
		}
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			b.dispatch(context.WithoutCancel(ctx), h, evt)
		}(h)
	}
	return nil
}

// Wait blocks until all in-flight async handlers finish.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// dispatch runs one handler with panic recovery so a bad listener cannot
// crash the publisher.
func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.ErrorContext(ctx, "event handler panicked",
				slog.String("event", evt.Name),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := h(ctx, evt); err != nil {
		b.log.ErrorContext(ctx, "event handler failed",
			slog.String("event", evt.Name),
			slog.String("error", err.Error()),
		)
	}
}
