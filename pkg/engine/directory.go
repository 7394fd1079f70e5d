package engine

import (
	"context"
	"sync"

	"github.com/coursekit/notify/pkg/notification"
)

// User is the directory record the engine needs to address and
// personalize notifications.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`        // E.164
	DeviceToken string `json:"device_token,omitempty"` // push gateway token
	WebhookURL  string `json:"webhook_url,omitempty"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// Address returns the user's destination for a channel, or "" when the
// user has none. In-app deliveries address the user id itself.
func (u User) Address(ch notification.Channel) string {
	switch ch {
	case notification.ChannelEmail:
		return u.Email
	case notification.ChannelSMS:
		return u.Phone
	case notification.ChannelPush:
		return u.DeviceToken
	case notification.ChannelWebhook:
		return u.WebhookURL
	case notification.ChannelInApp:
		return u.ID
	}
	return ""
}

// TemplateData returns the personalization fields exposed to templates
// under the "user" key.
func (u User) TemplateData() map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"locale":    u.Locale,
	}
}

// UserDirectory resolves recipients. Implementations typically wrap the
// platform's user service or database.
type UserDirectory interface {
	Get(ctx context.Context, userID string) (*User, error)

	// List returns every addressable user. Backs "all" automation
	// audiences.
	List(ctx context.Context) ([]User, error)
}

// MemoryDirectory is an in-memory UserDirectory for tests and local
// development.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
	order []string
}

// NewMemoryDirectory creates a directory seeded with the given users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add inserts or replaces a user.
func (d *MemoryDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[u.ID]; !exists {
		d.order = append(d.order, u.ID)
	}
	d.users[u.ID] = u
}

func (d *MemoryDirectory) Get(ctx context.Context, userID string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (d *MemoryDirectory) List(ctx context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out, nil
}
