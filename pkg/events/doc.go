// Package events provides an in-process publish/subscribe bus for
// platform events.
//
// Producers publish named events; consumers subscribe handlers by name.
// The bus isolates publishers from listeners: handler errors and panics
// are logged, never propagated, and by default handlers run in their own
// goroutines.
//
//	bus := events.NewBus()
//	_ = bus.Subscribe("user.enrolled", onEnrolled)
//	_ = bus.Publish(ctx, events.Event{
//		Name: "user.enrolled",
//		Data: map[string]any{"userId": "u1", "courseName": "Go 101"},
//	})
package events
