package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix    = "session:"
	redisPrincipalSetsFmt = "principal:%s:sessions"
)

// RedisSessionStore implements SessionStore in Redis. Each session is a
// JSON value under session:{hash} with a TTL matching its expiry, and
// the principal:{id}:sessions set indexes a principal's sessions.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func redisSessionKey(id string) string {
	return redisSessionPrefix + HashToken(id)
}

func redisPrincipalKey(principalID uuid.UUID) string {
	return fmt.Sprintf(redisPrincipalSetsFmt, principalID)
}

// Create stores the session with a TTL derived from its expiry.
func (r *RedisSessionStore) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return errors.New("session id is empty")
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}

	indexKey := redisPrincipalKey(s.PrincipalID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSessionKey(s.ID), data, ttl)
		pipe.SAdd(ctx, indexKey, HashToken(s.ID))
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns the live session for id.
func (r *RedisSessionStore) Get(ctx context.Context, id string, now time.Time) (*Session, error) {
	data, err := r.client.Get(ctx, redisSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshalling session: %w", err)
	}
	s.ID = id

	if s.Expired(now) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// Delete removes the session and its index entry. Deleting an unknown
// session is not an error.
func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id, time.Time{})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, redisPrincipalKey(s.PrincipalID), HashToken(id))
		pipe.Del(ctx, redisSessionKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CountForPrincipal returns how many indexed sessions the principal
// holds, pruning index entries whose session has expired.
func (r *RedisSessionStore) CountForPrincipal(ctx context.Context, principalID uuid.UUID) (int, error) {
	indexKey := redisPrincipalKey(principalID)
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing principal sessions: %w", err)
	}

	live := 0
	var stale []any
	for _, h := range hashes {
		n, err := r.client.Exists(ctx, redisSessionPrefix+h).Result()
		if err != nil {
			return 0, fmt.Errorf("checking session: %w", err)
		}
		if n == 0 {
			stale = append(stale, h)
			continue
		}
		live++
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return 0, fmt.Errorf("pruning principal sessions: %w", err)
		}
	}
	return live, nil
}
