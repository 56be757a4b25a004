package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/worktrack/modules/notification/services"
)

type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[int64]services.Notification
	nextID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notifications: map[int64]services.Notification{}, nextID: 1}
}

func (s *MemoryStore) Insert(ctx context.Context, n services.Notification) (services.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID
	s.nextID++
	n.CreatedAt = time.Now().UTC()
	s.notifications[n.ID] = n
	return n, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]services.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (services.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return services.Notification{}, services.ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id int64, at time.Time) (services.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return services.Notification{}, services.ErrNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
		s.notifications[id] = n
	}
	return n, nil
}
