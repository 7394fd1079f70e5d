package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/coursekit/notify/pkg/notification"
)

// ListOptions filters and paginates delivery queries. Zero values mean
// "any".
type ListOptions struct {
	UserID     string
	Channel    notification.Channel
	Category   notification.Category
	Status     notification.Status
	CampaignID string

	Limit  int
	Offset int
}

func (o ListOptions) matches(d *notification.Delivery) bool {
	if o.UserID != "" && d.UserID != o.UserID {
		return false
	}
	if o.Channel != "" && d.Channel != o.Channel {
		return false
	}
	if o.Category != "" && d.Category != o.Category {
		return false
	}
	if o.Status != "" && d.Status != o.Status {
		return false
	}
	if o.CampaignID != "" && d.CampaignID != o.CampaignID {
		return false
	}
	return true
}

// DeliveryStore persists delivery records through their lifecycle.
type DeliveryStore interface {
	Create(ctx context.Context, d *notification.Delivery) error
	GetByID(ctx context.Context, id string) (*notification.Delivery, error)
	Update(ctx context.Context, d *notification.Delivery) error
	List(ctx context.Context, opts ListOptions) ([]notification.Delivery, error)
	Count(ctx context.Context, opts ListOptions) (int, error)
}

// MemoryDeliveryStore is an in-memory DeliveryStore for tests and local
// development.
type MemoryDeliveryStore struct {
	mu         sync.RWMutex
	deliveries map[string]notification.Delivery
}

// NewMemoryDeliveryStore creates an empty in-memory delivery store.
func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{deliveries: make(map[string]notification.Delivery)}
}

func (s *MemoryDeliveryStore) Create(ctx context.Context, d *notification.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = *d
	return nil
}

func (s *MemoryDeliveryStore) GetByID(ctx context.Context, id string) (*notification.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return &d, nil
}

func (s *MemoryDeliveryStore) Update(ctx context.Context, d *notification.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	s.deliveries[d.ID] = *d
	return nil
}

func (s *MemoryDeliveryStore) List(ctx context.Context, opts ListOptions) ([]notification.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]notification.Delivery, 0)
	for _, d := range s.deliveries {
		if opts.matches(&d) {
			out = append(out, d)
		}
	}
	// Newest first, matching the SQL store's ordering.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryDeliveryStore) Count(ctx context.Context, opts ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.deliveries {
		if opts.matches(&d) {
			count++
		}
	}
	return count, nil
}
