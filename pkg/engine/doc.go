// Package engine orchestrates notification delivery for the platform.
//
// Send gates each notification on the user's preferences, resolves and
// renders content, records a pending delivery, and enqueues a channel
// job. Actual sending happens in queue workers running the engine's
// delivery handler; no caller ever blocks on a provider.
//
//	id, err := eng.Send(ctx, notification.Payload{
//		UserID:   "u1",
//		Channel:  notification.ChannelEmail,
//		Category: notification.CategoryAssignmentDue,
//		Priority: notification.PriorityHigh,
//		TemplateData: map[string]any{"assignmentName": "Essay 3"},
//	})
//
// A preference opt-out returns an empty id and no error; bulk sends rely
// on that so one user's opt-out never aborts a batch.
//
// Delivery lifecycle updates (MarkSent, MarkDelivered, MarkOpened,
// MarkClicked, MarkBounced, MarkFailed) apply the status state machine
// idempotently: duplicate or out-of-order updates are no-ops.
//
// Automation rules map platform events to notifications. Rules come from
// code (RegisterRules) or YAML files (LoadRulesFile), and BindEvents
// attaches the engine to an events.Bus so domain modules only ever
// publish.
package engine
