package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/index"
)

type queryEmbedder struct {
	vectors map[string][]float32
	err     error
	block   bool
}

func (e *queryEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vectors[text]
	}
	return out, nil
}

func (e *queryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func buildIndex(t *testing.T, emb domain.Embedder) *index.Index {
	t.Helper()
	chunks := []domain.Chunk{
		{ID: 0, Text: "alpha", EndOffset: 5},
		{ID: 1, Text: "beta", StartOffset: 5, EndOffset: 9},
		{ID: 2, Text: "gamma", StartOffset: 9, EndOffset: 14},
	}
	idx, err := index.Build(context.Background(), chunks, emb)
	require.NoError(t, err)
	return idx
}

func TestRetrieve_ExactMatchRanksFirst(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
		"gamma": {0, 0, 1},
		"which": {0, 0, 1},
	}}
	r := New(emb, buildIndex(t, emb), time.Second)

	results, err := r.Retrieve(context.Background(), "which", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, 2, results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"alpha": {1}, "beta": {1}, "gamma": {1}}}
	idx := buildIndex(t, emb)
	emb.err = errors.New("connection refused")

	_, err := New(emb, idx, time.Second).Retrieve(context.Background(), "q", 2)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestRetrieve_Timeout(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"alpha": {1}, "beta": {1}, "gamma": {1}}}
	idx := buildIndex(t, emb)
	emb.block = true

	start := time.Now()
	_, err := New(emb, idx, 20*time.Millisecond).Retrieve(context.Background(), "q", 2)

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetrieve_DimensionMismatch(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0}, "beta": {0, 1}, "gamma": {1, 1},
		"q": {1, 0, 0},
	}}

	_, err := New(emb, buildIndex(t, emb), time.Second).Retrieve(context.Background(), "q", 2)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}
