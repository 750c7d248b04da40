package cache

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/metrics"
	"github.com/pageqa/backend/pkg/logger"
	"github.com/pageqa/backend/pkg/utils"
)

// Embedder wraps a domain.Embedder with a Store. Store failures degrade to
// calling the wrapped embedder; they never fail an embed call. Only finite
// vectors of the pinned dimension are stored or served, so a malformed
// response fails that one call and is not replayed from the cache.
type Embedder struct {
	next  domain.Embedder
	store Store
	model string
	ttl   time.Duration

	// dim is fixed by the first vector stored; 0 until then.
	dim atomic.Int64
}

func NewEmbedder(next domain.Embedder, store Store, model string, ttl time.Duration) *Embedder {
	return &Embedder{next: next, store: store, model: model, ttl: ttl}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if vec, ok := e.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := e.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	e.save(ctx, key, vec)
	return vec, nil
}

// EmbedDocuments serves hits from the store and embeds all misses in one
// call to the wrapped embedder.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var (
		missTexts []string
		missPos   []int
	)
	for i, text := range texts {
		keys[i] = e.key(text)
		if vec, ok := e.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missPos = append(missPos, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			domain.ErrEmbeddingUnavailable, len(vectors), len(missTexts))
	}

	for j, pos := range missPos {
		out[pos] = vectors[j]
		e.save(ctx, keys[pos], vectors[j])
	}

	logger.Debug("Embedding cache batch",
		zap.Int("hits", len(texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)),
	)

	return out, nil
}

func (e *Embedder) key(text string) string {
	return utils.HashString(e.model, text)
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := e.store.GetEmbedding(ctx, key)
	if err != nil {
		metrics.EmbeddingCache.WithLabelValues(e.store.Name(), "error").Inc()
		logger.Warn("Embedding cache lookup failed", zap.String("cache", e.store.Name()), zap.Error(err))
		return nil, false
	}
	if !ok || !e.usable(vec) {
		metrics.EmbeddingCache.WithLabelValues(e.store.Name(), "miss").Inc()
		return nil, false
	}

	metrics.EmbeddingCache.WithLabelValues(e.store.Name(), "hit").Inc()
	return vec, true
}

func (e *Embedder) save(ctx context.Context, key string, vec []float32) {
	if !e.usable(vec) {
		logger.Debug("Skipping malformed embedding", zap.String("cache", e.store.Name()), zap.Int("dimension", len(vec)))
		return
	}
	e.dim.CompareAndSwap(0, int64(len(vec)))
	if e.dim.Load() != int64(len(vec)) {
		return
	}
	if err := e.store.SetEmbedding(ctx, key, vec, e.ttl); err != nil {
		logger.Warn("Embedding cache store failed", zap.String("cache", e.store.Name()), zap.Error(err))
	}
}

// usable reports whether vec is non-empty, finite and of the pinned
// dimension, if one is pinned.
func (e *Embedder) usable(vec []float32) bool {
	if len(vec) == 0 {
		return false
	}
	if dim := e.dim.Load(); dim != 0 && int64(len(vec)) != dim {
		return false
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
