package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stepupSessionKeyPrefix = "stepup_session:"

// RedisSessionStore shares step-up sessions across bot instances. Expiry is
// delegated to Redis key TTLs, so a read either returns a live session or
// nothing.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore constructs a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(userID, operation string) string {
	return stepupSessionKeyPrefix + userID + ":" + operation
}

func (s *RedisSessionStore) Put(ctx context.Context, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal step-up session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.UserID, session.Operation), data, ttl).Err(); err != nil {
		return fmt.Errorf("store step-up session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, userID, operation string) (Session, bool, error) {
	keys := []string{sessionKey(userID, operation)}
	if operation != OperationGeneralAuth {
		keys = append(keys, sessionKey(userID, OperationGeneralAuth))
	}

	now := time.Now()
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Session{}, false, fmt.Errorf("load step-up session: %w", err)
		}
		var session Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return Session{}, false, fmt.Errorf("unmarshal step-up session: %w", err)
		}
		if session.Covers(operation, now) {
			return session, true, nil
		}
	}
	return Session{}, false, nil
}

func (s *RedisSessionStore) Reset(ctx context.Context, userID string) error {
	pattern := stepupSessionKeyPrefix + userID + ":*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan step-up sessions: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete step-up sessions: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
