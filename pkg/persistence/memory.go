package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is the ephemeral scope: process-local, cleared on restart.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates the ephemeral store. Entries never expire on their
// own; lifecycle teardown is explicit.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// NewMemoryStoreTTL creates an ephemeral store whose entries expire after ttl.
func NewMemoryStoreTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.cache.Set(key, data, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	x, found := s.cache.Get(key)
	if !found {
		return false, nil
	}
	return true, json.Unmarshal(x.([]byte), dest)
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Flush drops every entry. Used on logout/workspace teardown.
func (s *MemoryStore) Flush() {
	s.cache.Flush()
}
