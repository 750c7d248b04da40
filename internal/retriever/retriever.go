package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pageqa/backend/internal/domain"
)

// Searcher is the read side of the embedding index.
type Searcher interface {
	Search(query []float32, topK int) ([]domain.ScoredChunk, error)
}

type Retriever struct {
	embedder domain.Embedder
	index    Searcher
	timeout  time.Duration
}

// New returns a retriever over index. A timeout of zero leaves the embed call
// bounded only by the caller's context.
func New(embedder domain.Embedder, index Searcher, timeout time.Duration) *Retriever {
	return &Retriever{embedder: embedder, index: index, timeout: timeout}
}

// Retrieve embeds question and returns the topK most similar chunks. Every
// failure, including a timed out embed call, wraps domain.ErrEmbeddingUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]domain.ScoredChunk, error) {
	embedCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vec, err := r.embedder.EmbedQuery(embedCtx, question)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embed timed out after %s", domain.ErrEmbeddingUnavailable, r.timeout)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}

	results, err := r.index.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	return results, nil
}
