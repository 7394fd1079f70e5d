package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/preferences"
	"github.com/coursekit/notify/pkg/queue"
	"github.com/coursekit/notify/pkg/sender"
	"github.com/coursekit/notify/pkg/templates"
)

// JobDeliver is the queue job name the engine registers its delivery
// handler under.
const JobDeliver = "deliver"

// JobCanceller removes a pending queued job by id. Satisfied by
// queue.MemoryQueue.
type JobCanceller interface {
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// deliverJob is the queue payload for one channel send.
type deliverJob struct {
	DeliveryID string               `json:"delivery_id"`
	UserID     string               `json:"user_id"`
	Channel    notification.Channel `json:"channel"`
	Address    string               `json:"address"`
	Subject    string               `json:"subject,omitempty"`
	Body       string               `json:"body"`
	HTMLBody   string               `json:"html_body,omitempty"`
}

// Engine orchestrates notification delivery: it gates sends on user
// preferences, renders content, records deliveries, and hands the actual
// channel work to per-channel queues.
type Engine struct {
	store     DeliveryStore
	users     UserDirectory
	prefs     *preferences.Resolver
	templates *templates.Engine
	enqueuer  *queue.Enqueuer
	senders   sender.Registry
	canceller JobCanceller
	log       *slog.Logger
	now       func() time.Time

	rulesMu sync.RWMutex
	rules   []Rule
}

// Option configures an Engine.
type Option func(*Engine)

// WithSenders provides the channel senders used by the delivery handler.
func WithSenders(reg sender.Registry) Option {
	return func(e *Engine) { e.senders = reg }
}

// WithJobCanceller enables Cancel for pending deliveries.
func WithJobCanceller(c JobCanceller) Option {
	return func(e *Engine) { e.canceller = c }
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEngineClock overrides the time source. Intended for tests.
func WithEngineClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates a notification engine. The template engine may be nil when
// all callers provide verbatim content.
func New(
	store DeliveryStore,
	users UserDirectory,
	prefs *preferences.Resolver,
	tmpl *templates.Engine,
	enq *queue.Enqueuer,
	opts ...Option,
) (*Engine, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	if users == nil {
		return nil, ErrDirectoryNil
	}

	e := &Engine{
		store:     store,
		users:     users,
		prefs:     prefs,
		templates: tmpl,
		enqueuer:  enq,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Send creates a pending delivery and enqueues the channel job. It
// returns the delivery id.
//
// A preference denial is not an error: Send returns an empty id and nil
// so bulk callers can treat opt-outs as silent skips. An enqueue failure
// marks the delivery failed and returns the error.
func (e *Engine) Send(ctx context.Context, payload notification.Payload) (string, error) {
	if payload.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrUserNotFound)
	}
	if !payload.Channel.Valid() {
		return "", fmt.Errorf("invalid channel %q", payload.Channel)
	}

	if e.prefs != nil {
		allowed, err := e.prefs.CheckNotificationAllowed(ctx, payload.UserID, payload.Category, payload.Channel)
		if err != nil {
			return "", fmt.Errorf("failed to check preferences: %w", err)
		}
		if !allowed {
			e.log.DebugContext(ctx, "notification suppressed by preferences",
				slog.String("user_id", payload.UserID),
				slog.String("category", string(payload.Category)),
				slog.String("channel", string(payload.Channel)),
			)
			return "", nil
		}
	}

	user, err := e.users.Get(ctx, payload.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user %s: %w", payload.UserID, err)
	}
	address := user.Address(payload.Channel)
	if address == "" {
		return "", fmt.Errorf("%w: user %s, channel %s", ErrNoAddress, payload.UserID, payload.Channel)
	}

	content, err := e.resolveContent(ctx, payload, user)
	if err != nil {
		return "", err
	}

	now := e.now()
	scheduledAt := now
	if payload.Scheduling.SendAt != nil {
		scheduledAt = *payload.Scheduling.SendAt
	}

	delivery := &notification.Delivery{
		ID:          uuid.New().String(),
		UserID:      payload.UserID,
		Channel:     payload.Channel,
		Category:    payload.Category,
		Priority:    payload.Priority,
		Status:      notification.StatusPending,
		Content:     content,
		CampaignID:  payload.Tracking.CampaignID,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}
	if err := e.store.Create(ctx, delivery); err != nil {
		return "", fmt.Errorf("failed to create delivery: %w", err)
	}

	if err := e.enqueueDelivery(ctx, delivery, address); err != nil {
		e.markFailed(ctx, delivery.ID, err.Error())
		return "", err
	}
	return delivery.ID, nil
}

// enqueueDelivery places the channel job. The job id is the delivery id
// so the job can be cancelled through the delivery alone.
func (e *Engine) enqueueDelivery(ctx context.Context, d *notification.Delivery, address string) error {
	var delay time.Duration
	if wait := d.ScheduledAt.Sub(e.now()); wait > 0 {
		delay = wait
	}

	jobID, err := uuid.Parse(d.ID)
	if err != nil {
		return fmt.Errorf("delivery id %q is not a job id: %w", d.ID, err)
	}

	_, err = e.enqueuer.Enqueue(ctx, string(d.Channel), JobDeliver,
		deliverJob{
			DeliveryID: d.ID,
			UserID:     d.UserID,
			Channel:    d.Channel,
			Address:    address,
			Subject:    d.Content.Subject,
			Body:       d.Content.Body,
			HTMLBody:   d.Content.HTML,
		},
		queue.WithJobID(jobID),
		queue.WithPriority(queue.Priority(d.Priority.QueueValue())),
		queue.WithDelay(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery %s: %w", d.ID, err)
	}
	return nil
}

// resolveContent produces the delivery content: verbatim payload content,
// or a template render when a template id is given or the payload body is
// empty.
func (e *Engine) resolveContent(ctx context.Context, payload notification.Payload, user *User) (notification.Content, error) {
	useTemplate := payload.TemplateID != "" || payload.Content.Body == ""
	if !useTemplate {
		return payload.Content, nil
	}
	if e.templates == nil {
		if payload.Content.Body != "" {
			return payload.Content, nil
		}
		return notification.Content{}, ErrNoContent
	}

	var (
		tpl *templates.Template
		err error
	)
	if payload.TemplateID != "" {
		tpl, err = e.templates.GetByID(ctx, payload.TemplateID)
	} else {
		tpl, err = e.templates.GetByCategory(ctx, payload.Category, user.Locale)
		if errors.Is(err, templates.ErrTemplateNotFound) && payload.Content.Body != "" {
			return payload.Content, nil
		}
	}
	if err != nil {
		return notification.Content{}, fmt.Errorf("failed to resolve template: %w", err)
	}

	data := make(map[string]any, len(payload.TemplateData)+1)
	for k, v := range payload.TemplateData {
		data[k] = v
	}
	data["user"] = user.TemplateData()

	format := templates.FormatForChannel(payload.Channel)
	rendered, err := e.templates.Render(ctx, tpl.ID, data, format)
	if err != nil {
		return notification.Content{}, fmt.Errorf("failed to render template %s: %w", tpl.ID, err)
	}

	content := notification.Content{
		Subject: rendered.Subject,
		Title:   rendered.Subject,
		Body:    rendered.Body,
		Data:    payload.TemplateData,
		Actions: payload.Content.Actions,
	}
	// Email gets both parts when the template carries HTML.
	if payload.Channel == notification.ChannelEmail && tpl.HTMLTemplate != "" {
		html, err := e.templates.Render(ctx, tpl.ID, data, templates.FormatHTML)
		if err != nil {
			return notification.Content{}, fmt.Errorf("failed to render template %s: %w", tpl.ID, err)
		}
		content.HTML = html.Body
	}
	return content, nil
}

// SendBulk fans one notification out over users × channels. Per-item
// failures are logged and skipped; the returned ids cover only the
// deliveries actually created, so callers detect partial failure by
// comparing counts.
func (e *Engine) SendBulk(ctx context.Context, bulk notification.BulkPayload) []string {
	ids := make([]string, 0, len(bulk.UserIDs)*len(bulk.Channels))
	for _, userID := range bulk.UserIDs {
		for _, channel := range bulk.Channels {
			id, err := e.Send(ctx, notification.Payload{
				UserID:       userID,
				Channel:      channel,
				Category:     bulk.Category,
				Priority:     bulk.Priority,
				Content:      bulk.Content,
				TemplateID:   bulk.TemplateID,
				TemplateData: bulk.TemplateData,
				Scheduling:   bulk.Scheduling,
				Tracking:     bulk.Tracking,
			})
			if err != nil {
				e.log.ErrorContext(ctx, "bulk item failed",
					slog.String("user_id", userID),
					slog.String("channel", string(channel)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if id == "" {
				// Preference opt-out: silent skip.
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// Schedule creates the delivery now and defers the channel send until the
// given time.
func (e *Engine) Schedule(ctx context.Context, payload notification.Payload, at time.Time) (string, error) {
	payload.Scheduling.SendAt = &at
	return e.Send(ctx, payload)
}

// Execute re-enqueues a still-pending delivery for immediate dispatch,
// e.g. to force a scheduled notification out early. The re-enqueued job
// gets a fresh id because the original pinned id may still be occupied.
func (e *Engine) Execute(ctx context.Context, deliveryID string) error {
	delivery, err := e.store.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != notification.StatusPending {
		return fmt.Errorf("%w: delivery %s is %s", ErrNotExecutable, deliveryID, delivery.Status)
	}

	if e.canceller != nil {
		if jobID, parseErr := uuid.Parse(deliveryID); parseErr == nil {
			// Best effort: the original delayed job may already be gone.
			_ = e.canceller.Cancel(ctx, jobID)
		}
	}

	user, err := e.users.Get(ctx, delivery.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve user %s: %w", delivery.UserID, err)
	}

	_, err = e.enqueuer.Enqueue(ctx, string(delivery.Channel), JobDeliver,
		deliverJob{
			DeliveryID: delivery.ID,
			UserID:     delivery.UserID,
			Channel:    delivery.Channel,
			Address:    user.Address(delivery.Channel),
			Subject:    delivery.Content.Subject,
			Body:       delivery.Content.Body,
			HTMLBody:   delivery.Content.HTML,
		},
		queue.WithPriority(queue.Priority(delivery.Priority.QueueValue())),
	)
	if err != nil {
		e.markFailed(ctx, delivery.ID, err.Error())
		return err
	}
	return nil
}

// Cancel removes a still-pending queued job and flips the delivery to
// cancelled. Deliveries that already started sending are rejected with
// ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, deliveryID string) error {
	delivery, err := e.store.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != notification.StatusPending {
		return fmt.Errorf("%w: delivery %s is %s", ErrNotCancellable, deliveryID, delivery.Status)
	}

	if e.canceller != nil {
		jobID, parseErr := uuid.Parse(deliveryID)
		if parseErr != nil {
			return fmt.Errorf("delivery id %q is not a job id: %w", deliveryID, parseErr)
		}
		if err := e.canceller.Cancel(ctx, jobID); err != nil {
			if errors.Is(err, queue.ErrNotCancellable) {
				return fmt.Errorf("%w: job already claimed", ErrNotCancellable)
			}
			if !errors.Is(err, queue.ErrJobNotFound) {
				return fmt.Errorf("failed to cancel job for delivery %s: %w", deliveryID, err)
			}
		}
	}

	delivery.ApplyStatus(notification.StatusCancelled, e.now())
	return e.store.Update(ctx, delivery)
}

// GetDelivery returns one delivery record.
func (e *Engine) GetDelivery(ctx context.Context, deliveryID string) (*notification.Delivery, error) {
	return e.store.GetByID(ctx, deliveryID)
}

// ListDeliveries returns delivery records matching the filter.
func (e *Engine) ListDeliveries(ctx context.Context, opts ListOptions) ([]notification.Delivery, error) {
	return e.store.List(ctx, opts)
}

// MarkSent records the provider handoff. Duplicate or out-of-order marks
// are no-ops.
func (e *Engine) MarkSent(ctx context.Context, deliveryID, messageID string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusSent, func(d *notification.Delivery) {
		if messageID != "" {
			d.MessageID = messageID
		}
	})
}

// MarkDelivered records a provider delivery receipt.
func (e *Engine) MarkDelivered(ctx context.Context, deliveryID string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusDelivered, nil)
}

// MarkOpened records an open event, e.g. from the tracking pixel.
func (e *Engine) MarkOpened(ctx context.Context, deliveryID string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusOpened, nil)
}

// MarkClicked records a click event from the tracking redirect.
func (e *Engine) MarkClicked(ctx context.Context, deliveryID string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusClicked, nil)
}

// MarkBounced records a provider bounce.
func (e *Engine) MarkBounced(ctx context.Context, deliveryID, reason string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusBounced, func(d *notification.Delivery) {
		d.FailureReason = reason
	})
}

// MarkFailed records a permanent send failure.
func (e *Engine) MarkFailed(ctx context.Context, deliveryID, reason string) error {
	return e.applyStatus(ctx, deliveryID, notification.StatusFailed, func(d *notification.Delivery) {
		d.FailureReason = reason
	})
}

// applyStatus loads, transitions, and persists. An invalid transition is
// a silent no-op so duplicate worker updates never error.
func (e *Engine) applyStatus(ctx context.Context, deliveryID string, to notification.Status, mutate func(*notification.Delivery)) error {
	delivery, err := e.store.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if !delivery.ApplyStatus(to, e.now()) {
		return nil
	}
	if mutate != nil {
		mutate(delivery)
	}
	return e.store.Update(ctx, delivery)
}

func (e *Engine) markFailed(ctx context.Context, deliveryID, reason string) {
	if err := e.MarkFailed(ctx, deliveryID, reason); err != nil {
		e.log.ErrorContext(ctx, "failed to mark delivery failed",
			slog.String("delivery_id", deliveryID),
			slog.String("error", err.Error()),
		)
	}
}

// Attach registers the engine's delivery handler on a queue worker.
func (e *Engine) Attach(w *queue.Worker) {
	w.Handle(JobDeliver, e.HandleDeliverJob)
}

// HandleDeliverJob performs one channel send for a claimed job. A sender
// failure returns the error so the queue retries with backoff; the
// delivery is marked failed only once the job's attempt budget is spent,
// because a retry may still succeed.
func (e *Engine) HandleDeliverJob(ctx context.Context, job *queue.Job) error {
	var payload deliverJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		e.markFailed(ctx, uuidOrEmpty(job.ID), "malformed job payload")
		return fmt.Errorf("failed to decode deliver job %s: %w", job.ID, err)
	}

	finalAttempt := job.Attempts+1 >= job.MaxAttempts

	snd, ok := e.senders.For(payload.Channel)
	if !ok {
		e.markFailed(ctx, payload.DeliveryID, ErrSenderNotConfigured.Error())
		return fmt.Errorf("%w: %s", ErrSenderNotConfigured, payload.Channel)
	}

	res, err := snd.Send(ctx, payload.Address, sender.Content{
		Subject:  payload.Subject,
		Body:     payload.Body,
		HTMLBody: payload.HTMLBody,
	})
	if err != nil {
		e.recordRetry(ctx, payload.DeliveryID)
		if finalAttempt {
			e.markFailed(ctx, payload.DeliveryID, err.Error())
		}
		return fmt.Errorf("failed to send delivery %s: %w", payload.DeliveryID, err)
	}

	if err := e.MarkSent(ctx, payload.DeliveryID, res.MessageID); err != nil {
		return fmt.Errorf("failed to record sent status for delivery %s: %w", payload.DeliveryID, err)
	}

	// The daily cap counts actual dispatches; a delivery scheduled days
	// ahead must not consume today's budget.
	if e.prefs != nil {
		e.prefs.RecordSend(ctx, payload.UserID)
	}
	return nil
}

func (e *Engine) recordRetry(ctx context.Context, deliveryID string) {
	delivery, err := e.store.GetByID(ctx, deliveryID)
	if err != nil {
		return
	}
	delivery.RetryCount++
	if err := e.store.Update(ctx, delivery); err != nil {
		e.log.WarnContext(ctx, "failed to record retry",
			slog.String("delivery_id", deliveryID),
			slog.String("error", err.Error()),
		)
	}
}

func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
