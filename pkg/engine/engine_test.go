package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/notify/pkg/engine"
	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/preferences"
	"github.com/coursekit/notify/pkg/queue"
	"github.com/coursekit/notify/pkg/sender"
	"github.com/coursekit/notify/pkg/templates"
)

type fixture struct {
	engine *engine.Engine
	store  *engine.MemoryDeliveryStore
	queue  *queue.MemoryQueue
	users  *engine.MemoryDirectory
	prefs  *preferences.Resolver
}

func testUsers() []engine.User {
	return []engine.User{
		{ID: "u1", Email: "ana@example.com", Phone: "+15550000001", FirstName: "Ana", Locale: "en"},
		{ID: "u2", Email: "ben@example.com", Phone: "+15550000002", FirstName: "Ben", Locale: "en"},
		{ID: "u3", Email: "cho@example.com", FirstName: "Cho", Locale: "en"}, // no phone
	}
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()

	store := engine.NewMemoryDeliveryStore()
	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	users := engine.NewMemoryDirectory(testUsers()...)

	prefs, err := preferences.NewResolver(preferences.NewMemoryStorage())
	require.NoError(t, err)

	tmpl, err := templates.NewEngine(templates.NewMemoryStorage())
	require.NoError(t, err)

	opts = append([]engine.Option{engine.WithJobCanceller(q)}, opts...)
	eng, err := engine.New(store, users, prefs, tmpl, enq, opts...)
	require.NoError(t, err)

	return &fixture{engine: eng, store: store, queue: q, users: users, prefs: prefs}
}

func assignmentPayload(userID string, ch notification.Channel) notification.Payload {
	return notification.Payload{
		UserID:   userID,
		Channel:  ch,
		Category: notification.CategoryAssignmentDue,
		Priority: notification.PriorityHigh,
		Content: notification.Content{
			Subject: "Assignment due",
			Body:    "Essay 3 is due tomorrow",
		},
	}
}

func TestEngine_Send_CreatesPendingAndEnqueues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, d.Status)
	assert.Equal(t, "Essay 3 is due tomorrow", d.Content.Body)

	// The queued job carries the delivery id and the high priority rank.
	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, id, job.ID.String())
	assert.Equal(t, queue.PriorityHigh, job.Priority)
}

func TestEngine_Send_PreferenceDenialIsSilent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// SMS is opt-in by default, so the send is suppressed without error.
	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelSMS))
	require.NoError(t, err)
	assert.Empty(t, id)

	count, err := f.store.Count(ctx, engine.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, count, "no delivery record for a suppressed send")
}

func TestEngine_Send_MissingAddress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Enable sms for u3 so the address check is what fails.
	require.NoError(t, f.prefs.UpdatePreference(ctx, preferences.Preference{
		UserID:   "u3",
		Category: notification.CategoryAssignmentDue,
		Channel:  notification.ChannelSMS,
		Enabled:  true,
	}))

	_, err := f.engine.Send(ctx, assignmentPayload("u3", notification.ChannelSMS))
	assert.ErrorIs(t, err, engine.ErrNoAddress)
}

type failingQueue struct {
	*queue.MemoryQueue
	failing bool
}

func (q *failingQueue) Push(ctx context.Context, job *queue.Job) error {
	if q.failing {
		return errors.New("broker unavailable")
	}
	return q.MemoryQueue.Push(ctx, job)
}

func TestEngine_Send_EnqueueFailureMarksFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := engine.NewMemoryDeliveryStore()
	fq := &failingQueue{MemoryQueue: queue.NewMemoryQueue(), failing: true}
	enq, err := queue.NewEnqueuer(fq)
	require.NoError(t, err)

	eng, err := engine.New(store, engine.NewMemoryDirectory(testUsers()...), nil, nil, enq)
	require.NoError(t, err)

	_, err = eng.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.ErrorIs(t, err, queue.ErrEnqueueFailed)

	// The delivery exists and is marked failed with the error recorded.
	all, err := store.List(ctx, engine.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, notification.StatusFailed, all[0].Status)
	assert.Contains(t, all[0].FailureReason, "broker unavailable")
}

func TestEngine_SendBulk_PartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Enable sms for all three users; u3 has no phone number, so exactly
	// one of the six sends fails. Defaults are materialized first so the
	// sms upsert adds to the full set instead of replacing it.
	for _, userID := range []string{"u1", "u2", "u3"} {
		_, err := f.prefs.GetUserPreferences(ctx, userID)
		require.NoError(t, err)
		require.NoError(t, f.prefs.UpdatePreference(ctx, preferences.Preference{
			UserID:   userID,
			Category: notification.CategoryAssignmentDue,
			Channel:  notification.ChannelSMS,
			Enabled:  true,
		}))
	}

	ids := f.engine.SendBulk(ctx, notification.BulkPayload{
		UserIDs:  []string{"u1", "u2", "u3"},
		Channels: []notification.Channel{notification.ChannelEmail, notification.ChannelSMS},
		Category: notification.CategoryAssignmentDue,
		Priority: notification.PriorityNormal,
		Content:  notification.Content{Subject: "Due", Body: "Essay 3 due"},
	})

	assert.Len(t, ids, 5, "3 users x 2 channels with one failure yields 5 ids")
}

func TestEngine_Schedule_DefersEligibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Schedule(ctx, assignmentPayload("u1", notification.ChannelEmail), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Delivery exists but the job is not yet eligible.
	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, d.Status)

	_, err = f.queue.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
}

func TestEngine_Execute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Schedule(ctx, assignmentPayload("u1", notification.ChannelEmail), time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Forcing the delivery out makes a job claimable right away.
	require.NoError(t, f.engine.Execute(ctx, id))
	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, queue.PriorityHigh, job.Priority)

	// A delivery past pending cannot be forced out again.
	require.NoError(t, f.engine.MarkSent(ctx, id, "pm-1"))
	err = f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, engine.ErrNotExecutable)
	assert.NotErrorIs(t, err, engine.ErrNotCancellable)
}

func TestEngine_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Schedule(ctx, assignmentPayload("u1", notification.ChannelEmail), time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(ctx, id))

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusCancelled, d.Status)

	// The queued job never dispatches.
	_, err = f.queue.Claim(ctx, []string{"email"})
	assert.ErrorIs(t, err, queue.ErrNoJobReady)

	// A cancelled delivery cannot be cancelled again.
	assert.ErrorIs(t, f.engine.Cancel(ctx, id), engine.ErrNotCancellable)
	assert.ErrorIs(t, f.engine.Cancel(ctx, "unknown"), engine.ErrDeliveryNotFound)
}

func TestEngine_StatusMarks_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	require.NoError(t, f.engine.MarkSent(ctx, id, "pm-1"))
	require.NoError(t, f.engine.MarkDelivered(ctx, id))
	require.NoError(t, f.engine.MarkOpened(ctx, id))

	// A late duplicate "sent" update is a no-op, not an error.
	require.NoError(t, f.engine.MarkSent(ctx, id, "pm-2"))

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusOpened, d.Status)
	assert.Equal(t, "pm-1", d.MessageID, "duplicate mark must not overwrite")
	assert.NotNil(t, d.OpenedAt)
}

func TestEngine_Render_FromCategoryTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := engine.NewMemoryDeliveryStore()
	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	tmpl, err := templates.NewEngine(templates.NewMemoryStorage())
	require.NoError(t, err)
	_, err = tmpl.Create(ctx, templates.CreateTemplateParams{
		Name:         "assignment-due",
		Category:     notification.CategoryAssignmentDue,
		Locale:       "en",
		Subject:      "{{assignmentName}} is due",
		TextTemplate: "Hi {{user.firstName}}, {{assignmentName}} is due.",
	})
	require.NoError(t, err)

	eng, err := engine.New(store, engine.NewMemoryDirectory(testUsers()...), nil, tmpl, enq)
	require.NoError(t, err)

	id, err := eng.Send(ctx, notification.Payload{
		UserID:       "u1",
		Channel:      notification.ChannelEmail,
		Category:     notification.CategoryAssignmentDue,
		TemplateData: map[string]any{"assignmentName": "Essay 3"},
	})
	require.NoError(t, err)

	d, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Essay 3 is due", d.Content.Subject)
	assert.Equal(t, "Hi Ana, Essay 3 is due.", d.Content.Body)
}

func TestEngine_Send_TemplateValidationFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := engine.NewMemoryDeliveryStore()
	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	tmpl, err := templates.NewEngine(templates.NewMemoryStorage())
	require.NoError(t, err)
	_, err = tmpl.Create(ctx, templates.CreateTemplateParams{
		Name:         "assignment-due",
		Category:     notification.CategoryAssignmentDue,
		Locale:       "en",
		TextTemplate: "{{assignmentName}} is due.",
		Variables: []templates.Variable{
			{Name: "assignmentName", Type: templates.VariableString, Required: true},
		},
	})
	require.NoError(t, err)

	eng, err := engine.New(store, engine.NewMemoryDirectory(testUsers()...), nil, tmpl, enq)
	require.NoError(t, err)

	_, err = eng.Send(ctx, notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelEmail,
		Category: notification.CategoryAssignmentDue,
	})
	require.ErrorIs(t, err, templates.ErrValidationFailed)

	var verr *templates.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], "assignmentName")
}

type recordingSender struct {
	channel notification.Channel
	sent    []string
	err     error
}

func (s *recordingSender) Channel() notification.Channel { return s.channel }

func (s *recordingSender) Send(ctx context.Context, address string, content sender.Content) (*sender.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, address)
	return &sender.Result{MessageID: "msg-1"}, nil
}

func TestEngine_DeliverJob_Success(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	snd := &recordingSender{channel: notification.ChannelEmail}
	f := newFixture(t, engine.WithSenders(sender.NewRegistry(snd)))

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.NoError(t, f.engine.HandleDeliverJob(ctx, job))

	assert.Equal(t, []string{"ana@example.com"}, snd.sent)

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, d.Status)
	assert.Equal(t, "msg-1", d.MessageID)
}

func TestEngine_DeliverJob_DailyCapCountsAtDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := engine.NewMemoryDeliveryStore()
	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	counter := preferences.NewMemoryCounter()
	prefs, err := preferences.NewResolver(preferences.NewMemoryStorage(),
		preferences.WithDailyCounter(counter))
	require.NoError(t, err)

	snd := &recordingSender{channel: notification.ChannelEmail}
	eng, err := engine.New(store, engine.NewMemoryDirectory(testUsers()...), prefs, nil, enq,
		engine.WithSenders(sender.NewRegistry(snd)))
	require.NoError(t, err)

	_, err = eng.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	// Enqueueing alone must not consume the daily budget.
	count, err := counter.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	job, err := q.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	require.NoError(t, eng.HandleDeliverJob(ctx, job))

	count, err = counter.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_DeliverJob_FailureBeforeFinalAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	snd := &recordingSender{channel: notification.ChannelEmail, err: sender.ErrSendFailed}
	f := newFixture(t, engine.WithSenders(sender.NewRegistry(snd)))

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	job.MaxAttempts = 3

	// First attempt fails: the delivery stays pending for the retry.
	require.Error(t, f.engine.HandleDeliverJob(ctx, job))

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, d.Status)
	assert.Equal(t, 1, d.RetryCount)
}

func TestEngine_DeliverJob_FinalAttemptMarksFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	snd := &recordingSender{channel: notification.ChannelEmail, err: sender.ErrSendFailed}
	f := newFixture(t, engine.WithSenders(sender.NewRegistry(snd)))

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)
	job.Attempts = 2
	job.MaxAttempts = 3

	require.Error(t, f.engine.HandleDeliverJob(ctx, job))

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, d.Status)
	assert.NotEmpty(t, d.FailureReason)
}

func TestEngine_DeliverJob_NoSenderConfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, engine.WithSenders(sender.NewRegistry()))

	id, err := f.engine.Send(ctx, assignmentPayload("u1", notification.ChannelEmail))
	require.NoError(t, err)

	job, err := f.queue.Claim(ctx, []string{"email"})
	require.NoError(t, err)

	err = f.engine.HandleDeliverJob(ctx, job)
	assert.ErrorIs(t, err, engine.ErrSenderNotConfigured)

	d, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, d.Status)
}
