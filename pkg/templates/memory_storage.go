package templates

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coursekit/notify/pkg/notification"
)

// MemoryStorage is an in-memory Storage implementation, suitable for
// development and testing.
type MemoryStorage struct {
	mu        sync.RWMutex
	templates map[string]Template
	order     []string // insertion order for stable listings
}

// NewMemoryStorage creates a new in-memory template storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		templates: make(map[string]Template),
	}
}

func (s *MemoryStorage) Create(ctx context.Context, tpl Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now()
	}
	tpl.UpdatedAt = tpl.CreatedAt
	s.templates[tpl.ID] = tpl
	s.order = append(s.order, tpl.ID)
	return nil
}

func (s *MemoryStorage) GetByID(ctx context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &tpl, nil
}

func (s *MemoryStorage) FindActive(ctx context.Context, category notification.Category, locale string) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Template
	for _, id := range s.order {
		tpl := s.templates[id]
		if tpl.Status == StatusActive && tpl.Category == category && tpl.Locale == locale {
			out = append(out, tpl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (s *MemoryStorage) Update(ctx context.Context, tpl Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[tpl.ID]
	if !ok {
		return ErrTemplateNotFound
	}
	tpl.CreatedAt = existing.CreatedAt
	tpl.UpdatedAt = time.Now()
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, opts ListOptions) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []Template
	// Iterate newest-first.
	for i := len(s.order) - 1; i >= 0; i-- {
		tpl := s.templates[s.order[i]]
		if opts.Category != "" && tpl.Category != opts.Category {
			continue
		}
		if opts.Locale != "" && tpl.Locale != opts.Locale {
			continue
		}
		if opts.Status != "" && tpl.Status != opts.Status {
			continue
		}
		filtered = append(filtered, tpl)
	}

	start := opts.Offset
	if start > len(filtered) {
		return []Template{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) Count(ctx context.Context, opts ListOptions) (int, error) {
	opts.Limit = 0
	opts.Offset = 0
	all, err := s.List(ctx, opts)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
