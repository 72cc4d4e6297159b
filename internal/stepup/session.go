package stepup

import (
	"context"
	"sync"
	"time"
)

// OperationGeneralAuth is the wildcard scope: a session issued for it
// satisfies the step-up requirement of any operation.
const OperationGeneralAuth = "general-auth"

// DefaultSessionTTL is how long a completed challenge stays valid.
const DefaultSessionTTL = 15 * time.Minute

// Session is proof that a user recently completed a step-up challenge for one
// named operation or for general-auth. Sessions are never persisted beyond
// their expiry; an expired session is indistinguishable from no session.
type Session struct {
	UserID    string    `json:"user_id"`
	Operation string    `json:"operation"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Covers reports whether the session authorizes the given operation at the
// given time.
func (s Session) Covers(operation string, now time.Time) bool {
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return s.Operation == operation || s.Operation == OperationGeneralAuth
}

// SessionStore holds live step-up sessions. Implementations must tolerate
// concurrent access from many command handlers; expiry is evaluated lazily at
// read time.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	// Get returns the live session for (userID, operation), preferring an
	// exact operation match over a general-auth session. A missing or
	// expired session returns ok=false.
	Get(ctx context.Context, userID, operation string) (Session, bool, error)
	// Reset destroys all of a user's sessions, forcing fresh challenges.
	Reset(ctx context.Context, userID string) error
}

// InMemorySessionStore is the default process-local session table.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session // userID -> operation -> session
}

// NewInMemorySessionStore creates an empty session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]map[string]Session),
	}
}

func (s *InMemorySessionStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byOp, ok := s.sessions[session.UserID]
	if !ok {
		byOp = make(map[string]Session)
		s.sessions[session.UserID] = byOp
	}
	byOp[session.Operation] = session
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, userID, operation string) (Session, bool, error) {
	now := time.Now()

	s.mu.RLock()
	byOp := s.sessions[userID]
	exact, hasExact := byOp[operation]
	general, hasGeneral := byOp[OperationGeneralAuth]
	s.mu.RUnlock()

	if hasExact && exact.Covers(operation, now) {
		return exact, true, nil
	}
	if hasGeneral && general.Covers(operation, now) {
		return general, true, nil
	}

	// Lazily drop whatever expired so the table does not grow unbounded.
	if hasExact || hasGeneral {
		s.sweepUser(userID, now)
	}
	return Session{}, false, nil
}

func (s *InMemorySessionStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// sweepUser removes the user's expired sessions.
func (s *InMemorySessionStore) sweepUser(userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byOp := s.sessions[userID]
	for op, sess := range byOp {
		if !now.Before(sess.ExpiresAt) {
			delete(byOp, op)
		}
	}
	if len(byOp) == 0 {
		delete(s.sessions, userID)
	}
}
