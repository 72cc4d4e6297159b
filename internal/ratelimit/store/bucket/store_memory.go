// Package bucket implements the in-memory point-bucket counter store backing
// every rate-limit scope. Counting is fixed-window: the first consume in a
// window starts it, later consumes accumulate, and a consume that would exceed
// capacity fails without mutating state. State is process-lifetime only; rate
// limiting is best-effort, not durable.
package bucket

import (
	"context"
	"sync"
	"time"

	keyedsync "panelbot/pkg/platform/sync"
)

// State describes one bucket after a consume or peek.
type State struct {
	Success         bool
	RemainingPoints int
	ConsumedPoints  int
	ResetAt         time.Time
}

// MsBeforeReset reports milliseconds until the current window elapses,
// measured from now. Zero when no window is running.
func (s State) MsBeforeReset(now time.Time) int64 {
	ms := s.ResetAt.Sub(now).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

type window struct {
	consumed  int
	startedAt time.Time
	duration  time.Duration
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.startedAt) >= w.duration
}

// InMemoryStore is the process-local counter store. Buckets are created
// lazily per key and reset when their window elapses. Consumes on the same
// key serialize through a per-key sharded lock so two concurrent commands
// contending for the last point of capacity never both succeed.
type InMemoryStore struct {
	buckets sync.Map // key -> *window
	locks   *keyedsync.ShardedMutex
}

// NewInMemoryStore creates an empty counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{locks: keyedsync.NewShardedMutex()}
}

// Consume attempts to take points from the bucket identified by key.
// The consume-and-check is atomic per key: on failure state is unchanged
// and the returned State reports time remaining until the window resets.
func (s *InMemoryStore) Consume(_ context.Context, key string, points, capacity int, windowDur time.Duration) (State, error) {
	now := time.Now()

	var st State
	s.locks.WithLock(key, func() {
		w := s.loadOrStart(key, now, windowDur)
		if w.expired(now) {
			w.consumed = 0
			w.startedAt = now
			w.duration = windowDur
		}

		if w.consumed+points > capacity {
			st = State{
				Success:         false,
				RemainingPoints: capacity - w.consumed,
				ConsumedPoints:  w.consumed,
				ResetAt:         w.startedAt.Add(w.duration),
			}
			return
		}

		w.consumed += points
		st = State{
			Success:         true,
			RemainingPoints: capacity - w.consumed,
			ConsumedPoints:  w.consumed,
			ResetAt:         w.startedAt.Add(w.duration),
		}
	})

	return st, nil
}

// Peek returns the current bucket state without mutating it. A missing or
// expired bucket reports zero consumed points and no running window.
func (s *InMemoryStore) Peek(_ context.Context, key string, capacity int) (State, error) {
	now := time.Now()

	var st State
	s.locks.WithLock(key, func() {
		v, ok := s.buckets.Load(key)
		if !ok {
			st = State{Success: true, RemainingPoints: capacity}
			return
		}
		w := v.(*window)
		if w.expired(now) {
			st = State{Success: true, RemainingPoints: capacity}
			return
		}
		st = State{
			Success:         true,
			RemainingPoints: capacity - w.consumed,
			ConsumedPoints:  w.consumed,
			ResetAt:         w.startedAt.Add(w.duration),
		}
	})

	return st, nil
}

// Delete forcibly resets a bucket. Used for administrative override.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.locks.WithLock(key, func() {
		s.buckets.Delete(key)
	})
	return nil
}

// loadOrStart fetches the bucket for key, creating a fresh window if absent.
// Callers must hold the key's shard lock.
func (s *InMemoryStore) loadOrStart(key string, now time.Time, dur time.Duration) *window {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*window)
	}
	w := &window{startedAt: now, duration: dur}
	s.buckets.Store(key, w)
	return w
}
