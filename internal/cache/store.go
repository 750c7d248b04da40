// Package cache keeps embedding vectors keyed by model and text so repeated
// texts are not re-embedded.
package cache

import (
	"context"
	"time"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store is a vector cache. A miss is (nil, false, nil).
type Store interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
	Name() string
}
