// Package redisstore implements the session store on Redis. Sessions are
// stored as JSON values with a key TTL so expiry is enforced server-side.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/storage"
)

const sessionKeyPrefix = "session:"

// Sessions persists login sessions in Redis.
type Sessions struct {
	client *redis.Client
}

var _ storage.SessionStore = (*Sessions)(nil)

// NewSessions creates a session store on the given client.
func NewSessions(client *redis.Client) *Sessions {
	return &Sessions{client: client}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func (s *Sessions) PutSession(ctx context.Context, sess auth.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	if err := s.client.Set(ctx, sessionKey(sess.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Sessions) GetSession(ctx context.Context, token string) (auth.Session, error) {
	payload, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err == redis.Nil {
		return auth.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("load session: %w", err)
	}

	var sess auth.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return auth.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *Sessions) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op: the key TTL set in PutSession makes
// Redis drop expired sessions on its own.
func (s *Sessions) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}
