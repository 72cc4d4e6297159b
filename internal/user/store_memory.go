package user

import (
	"context"
	"sync"
	"time"

	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/sentinel"
)

// InMemoryStore keeps user records in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*User)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *u
	copied.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	return &copied, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	copied := *u
	copied.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	if existing, ok := s.users[u.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.users[u.ID] = &copied
	return nil
}

func (s *InMemoryStore) SetTwoFactorSecret(_ context.Context, userID, secret string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.loadOrCreate(userID)
	u.TwoFactorSecret = secret
	u.BackupCodeHashes = append([]string(nil), hashes...)
	u.TwoFactorEnabled = false
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.TwoFactorEnabled = enabled
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetBackupCodes(_ context.Context, userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.BackupCodeHashes = append([]string(nil), hashes...)
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetAPIKeyHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.loadOrCreate(userID)
	u.APIKeyHash = hash
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetTier(_ context.Context, userID string, tier rlmodels.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.loadOrCreate(userID)
	u.Tier = tier
	u.UpdatedAt = time.Now()
	return nil
}

// loadOrCreate must be called with the write lock held.
func (s *InMemoryStore) loadOrCreate(userID string) *User {
	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID, Tier: rlmodels.TierFree, CreatedAt: time.Now()}
		s.users[userID] = u
	}
	return u
}
