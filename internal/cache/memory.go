package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &MemoryStore{
		cache: gocache.New(defaultTTL, 10*time.Minute),
	}
}

func (s *MemoryStore) Name() string { return BackendMemory }

func (s *MemoryStore) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	if x, found := s.cache.Get(key); found {
		return append([]float32(nil), x.([]float32)...), true, nil
	}
	return nil, false, nil
}

func (s *MemoryStore) SetEmbedding(_ context.Context, key string, embedding []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	s.cache.Set(key, append([]float32(nil), embedding...), ttl)
	return nil
}

func (s *MemoryStore) ItemCount() int {
	return s.cache.ItemCount()
}
