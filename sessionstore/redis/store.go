// Package redis stores the session record in Redis so several processes can share it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/redis/go-redis/v9"
)

// Store implements domain.SessionStore on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore creates a Store. Keys are namespaced with prefix; ttl of zero never expires.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) redisKey(key string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, key)
}

// Get implements domain.SessionStore.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get: %v", domain.ErrUnavailable, err)
	}
	return val, true, nil
}

// Set implements domain.SessionStore.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Remove implements domain.SessionStore.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", domain.ErrUnavailable, err)
	}
	return nil
}

var _ domain.SessionStore = (*Store)(nil)
