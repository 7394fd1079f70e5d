package sender

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/notify/pkg/notification"
)

// InAppMessage is one entry in a user's in-app inbox.
type InAppMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// InAppSender delivers notifications into a per-user in-app inbox held in
// memory. The address passed to Send is the user id.
type InAppSender struct {
	mu      sync.RWMutex
	inboxes map[string][]InAppMessage
}

// NewInAppSender creates an in-app inbox sender.
func NewInAppSender() *InAppSender {
	return &InAppSender{inboxes: make(map[string][]InAppMessage)}
}

func (s *InAppSender) Channel() notification.Channel { return notification.ChannelInApp }

// Send appends the message to the user's inbox. Newest messages come last.
func (s *InAppSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}

	msg := InAppMessage{
		ID:        uuid.New().String(),
		UserID:    address,
		Subject:   content.Subject,
		Body:      content.Body,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.inboxes[address] = append(s.inboxes[address], msg)
	s.mu.Unlock()

	return &Result{MessageID: msg.ID}, nil
}

// Inbox returns a copy of the user's messages in arrival order.
func (s *InAppSender) Inbox(userID string) []InAppMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.inboxes[userID]
	out := make([]InAppMessage, len(msgs))
	copy(out, msgs)
	return out
}

// MarkRead flags one message as read. Unknown ids are ignored.
func (s *InAppSender) MarkRead(userID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.inboxes[userID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Read = true
			return
		}
	}
}
