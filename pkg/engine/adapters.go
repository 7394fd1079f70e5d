package engine

import (
	"context"

	"github.com/coursekit/notify/pkg/events"
)

// Canonical platform event names the engine listens for.
const (
	EventUserEnrolled      = "user.enrolled"
	EventCourseCompleted   = "course.completed"
	EventAssessmentFailed  = "assessment.failed"
	EventUserInactive      = "user.inactive"
	EventCertificateEarned = "certificate.earned"
	EventPaymentFailed     = "payment.failed"
)

// HandleUserEnrolled maps an enrollment event to automation evaluation.
func (e *Engine) HandleUserEnrolled(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventUserEnrolled, data)
	return err
}

// HandleCourseCompleted maps a course completion event to automation
// evaluation.
func (e *Engine) HandleCourseCompleted(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventCourseCompleted, data)
	return err
}

// HandleAssessmentFailed maps a failed assessment event to automation
// evaluation.
func (e *Engine) HandleAssessmentFailed(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventAssessmentFailed, data)
	return err
}

// HandleUserInactive maps an inactivity event to automation evaluation.
func (e *Engine) HandleUserInactive(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventUserInactive, data)
	return err
}

// HandleCertificateEarned maps a certificate event to automation
// evaluation.
func (e *Engine) HandleCertificateEarned(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventCertificateEarned, data)
	return err
}

// HandlePaymentFailed maps a payment failure event to automation
// evaluation.
func (e *Engine) HandlePaymentFailed(ctx context.Context, data map[string]any) error {
	_, err := e.TriggerAutomation(ctx, EventPaymentFailed, data)
	return err
}

// BindEvents subscribes the engine to every platform event it reacts to.
// Domain modules publish once; the engine maps event name to automation
// evaluation here, so call sites never reference engine internals.
func (e *Engine) BindEvents(bus *events.Bus) error {
	for _, name := range []string{
		EventUserEnrolled,
		EventCourseCompleted,
		EventAssessmentFailed,
		EventUserInactive,
		EventCertificateEarned,
		EventPaymentFailed,
	} {
		name := name
		err := bus.Subscribe(name, func(ctx context.Context, evt events.Event) error {
			_, err := e.TriggerAutomation(ctx, name, evt.Data)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
