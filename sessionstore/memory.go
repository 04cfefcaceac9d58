package sessionstore

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/datelink/domain"
)

// MemoryStore is a process-local SessionStore backed by ttlcache.
// Values do not survive a restart.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStore creates a store whose values expire after ttl.
// A zero ttl keeps values until removed.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Get implements domain.SessionStore.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Set implements domain.SessionStore.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

// Remove implements domain.SessionStore.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Close stops the expiry goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ domain.SessionStore = (*MemoryStore)(nil)
