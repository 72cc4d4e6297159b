package audit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps the event log in process memory. Suitable for tests and
// for running without a database path configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.UserID] = append(s.events[event.UserID], event)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string, since time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[userID]
	out := make([]Event, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].Timestamp.Before(since) {
			continue
		}
		out = append(out, stored[i])
	}
	return out, nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]Event)
}
