package sender

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/coursekit/notify/pkg/notification"
)

// DevSender implements Sender for local development. It logs the message
// instead of calling a provider and always succeeds.
type DevSender struct {
	channel notification.Channel
	log     *slog.Logger
}

// NewDevSender creates a development sender for the given channel.
func NewDevSender(channel notification.Channel, log *slog.Logger) *DevSender {
	if log == nil {
		log = slog.Default()
	}
	return &DevSender{channel: channel, log: log}
}

func (s *DevSender) Channel() notification.Channel { return s.channel }

// Send logs the message and returns a synthetic message id.
func (s *DevSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}
	id := uuid.New().String()
	s.log.InfoContext(ctx, "dev send",
		slog.String("channel", string(s.channel)),
		slog.String("address", address),
		slog.String("subject", content.Subject),
		slog.String("body", content.Body),
		slog.String("message_id", id),
	)
	return &Result{MessageID: id}, nil
}
