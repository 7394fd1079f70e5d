package preferences

import (
	"context"
	"sync"
	"time"

	"github.com/coursekit/notify/pkg/notification"
)

type prefKey struct {
	category notification.Category
	channel  notification.Channel
}

// MemoryStorage is an in-memory Storage implementation, suitable for
// development and testing.
type MemoryStorage struct {
	mu    sync.RWMutex
	prefs map[string]map[prefKey]Preference // userID -> (category, channel) -> pref
	order map[string][]prefKey              // preserves materialization order per user
}

// NewMemoryStorage creates a new in-memory preference storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prefs: make(map[string]map[prefKey]Preference),
		order: make(map[string][]prefKey),
	}
}

func (s *MemoryStorage) ListByUser(ctx context.Context, userID string) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.order[userID]
	out := make([]Preference, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.prefs[userID][k])
	}
	return out, nil
}

func (s *MemoryStorage) Get(ctx context.Context, userID string, category notification.Category, channel notification.Channel) (*Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userPrefs, ok := s.prefs[userID]
	if !ok {
		return nil, ErrPreferenceNotFound
	}
	p, ok := userPrefs[prefKey{category, channel}]
	if !ok {
		return nil, ErrPreferenceNotFound
	}
	pref := p
	return &pref, nil
}

func (s *MemoryStorage) Upsert(ctx context.Context, pref Preference) error {
	if pref.UserID == "" {
		return ErrUserIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := prefKey{pref.Category, pref.Channel}
	if _, ok := s.prefs[pref.UserID]; !ok {
		s.prefs[pref.UserID] = make(map[prefKey]Preference)
	}
	if existing, ok := s.prefs[pref.UserID][k]; ok {
		pref.CreatedAt = existing.CreatedAt
	} else {
		s.order[pref.UserID] = append(s.order[pref.UserID], k)
		if pref.CreatedAt.IsZero() {
			pref.CreatedAt = time.Now()
		}
	}
	pref.UpdatedAt = time.Now()
	s.prefs[pref.UserID][k] = pref
	return nil
}

func (s *MemoryStorage) CreateBatch(ctx context.Context, prefs []Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, pref := range prefs {
		if pref.UserID == "" {
			return ErrUserIDRequired
		}
		k := prefKey{pref.Category, pref.Channel}
		if _, ok := s.prefs[pref.UserID]; !ok {
			s.prefs[pref.UserID] = make(map[prefKey]Preference)
		}
		// Existing rows win; batch creation never overwrites.
		if _, ok := s.prefs[pref.UserID][k]; ok {
			continue
		}
		pref.CreatedAt = now
		pref.UpdatedAt = now
		s.prefs[pref.UserID][k] = pref
		s.order[pref.UserID] = append(s.order[pref.UserID], k)
	}
	return nil
}

// MemoryCounter is an in-memory DailyCounter keyed by user and UTC day.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
	now    func() time.Time
}

// NewMemoryCounter creates a new in-memory daily counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

func (c *MemoryCounter) key(userID string) string {
	return userID + ":" + c.now().UTC().Format("2006-01-02")
}

func (c *MemoryCounter) Incr(ctx context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(userID)
	c.counts[k]++
	return c.counts[k], nil
}

func (c *MemoryCounter) Count(ctx context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[c.key(userID)], nil
}
