// Package notification defines the shared domain model of the notification
// delivery engine: channels, categories, priorities, the send payloads, and
// the delivery record with its monotonic status lifecycle.
//
// The delivery lifecycle is:
//
//	pending → sent → delivered → opened → clicked
//
// Failures (failed, bounced) are reachable from any non-terminal state, and
// a still-pending delivery may be cancelled. Terminal states are never left,
// and any attempt to move a delivery backward is a no-op rather than an
// error so that duplicate or retried worker updates stay idempotent.
package notification
