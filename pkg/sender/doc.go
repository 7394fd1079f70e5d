// Package sender implements channel delivery providers behind one
// interface.
//
// Each Sender wraps a single provider: Postmark for email, AWS SNS for
// SMS, an HTTP gateway for push, signed HTTP POSTs for webhooks, and an
// in-memory inbox for in-app notifications. A DevSender logs instead of
// sending for local development.
//
// Senders are grouped in a Registry keyed by channel:
//
//	reg := sender.NewRegistry(emailSender, smsSender, pushSender)
//	s, ok := reg.For(notification.ChannelEmail)
//
// Send returns the provider message id on success; callers use it to
// correlate delivery receipts and bounces.
package sender
