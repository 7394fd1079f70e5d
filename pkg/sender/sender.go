package sender

import (
	"context"

	"github.com/coursekit/notify/pkg/notification"
)

// Content is the rendered message handed to a channel sender. HTMLBody is
// only meaningful for channels that render rich content; everything else
// uses Body.
type Content struct {
	Subject  string
	Body     string
	HTMLBody string
}

// Result reports a successful provider handoff.
type Result struct {
	// MessageID is the provider-side identifier, used to correlate
	// delivery receipts and bounces.
	MessageID string
}

// Sender delivers rendered content to one address on one channel.
// Implementations wrap a single provider (Postmark, SNS, a push gateway)
// and must be safe for concurrent use.
type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, address string, content Content) (*Result, error)
}

// Registry maps channels to their configured senders.
type Registry map[notification.Channel]Sender

// NewRegistry builds a registry from the given senders. A later sender
// for the same channel replaces the earlier one.
func NewRegistry(senders ...Sender) Registry {
	r := make(Registry, len(senders))
	for _, s := range senders {
		r[s.Channel()] = s
	}
	return r
}

// For returns the sender for a channel.
func (r Registry) For(ch notification.Channel) (Sender, bool) {
	s, ok := r[ch]
	return s, ok
}
