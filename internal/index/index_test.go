package index

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageqa/backend/internal/domain"
)

// tableEmbedder maps texts to fixed vectors.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *tableEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vectors[text]
	}
	return out, nil
}

func (e *tableEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vectors[text], e.err
}

func chunksOf(texts ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(texts))
	offset := 0
	for i, text := range texts {
		n := len([]rune(text))
		chunks[i] = domain.Chunk{ID: i, Text: text, StartOffset: offset, EndOffset: offset + n}
		offset += n
	}
	return chunks
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "scaled", a: []float32{1, 1}, b: []float32{5, 5}, want: 1},
		{name: "zero norm", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestBuild_EmptyChunksSkipsEmbedder(t *testing.T) {
	emb := &tableEmbedder{}
	idx, err := Build(context.Background(), nil, emb)
	require.NoError(t, err)

	assert.Zero(t, idx.Len())
	assert.Zero(t, emb.calls)

	results, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBuild_EmbedderFailure(t *testing.T) {
	emb := &tableEmbedder{err: errors.New("quota exceeded")}
	idx, err := Build(context.Background(), chunksOf("a"), emb)

	assert.Nil(t, idx)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestBuild_RejectsBadVectors(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name    string
		vectors map[string][]float32
		chunks  []domain.Chunk
	}{
		{name: "missing vector", vectors: map[string][]float32{"a": {1, 0}}, chunks: chunksOf("a", "b")},
		{name: "dimension mismatch", vectors: map[string][]float32{"a": {1, 0}, "b": {1, 0, 0}}, chunks: chunksOf("a", "b")},
		{name: "nan component", vectors: map[string][]float32{"a": {1, nan}}, chunks: chunksOf("a")},
		{name: "infinite component", vectors: map[string][]float32{"a": {inf, 1}}, chunks: chunksOf("a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Build(context.Background(), tt.chunks, &tableEmbedder{vectors: tt.vectors})
			assert.Nil(t, idx)
			assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
		})
	}
}

type shortEmbedder struct{ tableEmbedder }

func (e *shortEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func TestBuild_VectorCountMismatch(t *testing.T) {
	_, err := Build(context.Background(), chunksOf("a", "b"), &shortEmbedder{})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func newIndex(t *testing.T) *Index {
	t.Helper()
	emb := &tableEmbedder{vectors: map[string][]float32{
		"born in Tokyo": {1, 0, 0},
		"works":         {0, 1, 0},
		"hobbies":       {0, 0, 1},
		"career":        {0.7, 0.7, 0},
	}}
	idx, err := Build(context.Background(), chunksOf("born in Tokyo", "works", "hobbies", "career"), emb)
	require.NoError(t, err)
	return idx
}

func TestSearch_RanksByCosine(t *testing.T) {
	idx := newIndex(t)

	results, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0, results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, 3, results[1].Chunk.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearch_TiesKeepDocumentOrder(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string][]float32{
		"x": {1, 0},
		"y": {2, 0},
		"z": {0, 1},
	}}
	idx, err := Build(context.Background(), chunksOf("z", "y", "x"), emb)
	require.NoError(t, err)

	results, err := idx.Search([]float32{3, 0}, 3)
	require.NoError(t, err)

	ids := []int{results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID}
	assert.Equal(t, []int{1, 2, 0}, ids)
}

func TestSearch_ClampsTopK(t *testing.T) {
	idx := newIndex(t)

	all, err := idx.Search([]float32{0, 0, 1}, 100)
	require.NoError(t, err)
	assert.Len(t, all, idx.Len())

	none, err := idx.Search([]float32{0, 0, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	negative, err := idx.Search([]float32{0, 0, 1}, -3)
	require.NoError(t, err)
	assert.Empty(t, negative)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	idx := newIndex(t)

	_, err := idx.Search([]float32{1, 0}, 2)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSearch_ZeroQueryScoresZero(t *testing.T) {
	idx := newIndex(t)

	results, err := idx.Search([]float32{0, 0, 0}, 4)
	require.NoError(t, err)
	for i, r := range results {
		assert.Zero(t, r.Score)
		assert.Equal(t, i, r.Chunk.ID)
	}
}

func TestIndex_RecordsAreCopies(t *testing.T) {
	vec := []float32{1, 0}
	emb := &tableEmbedder{vectors: map[string][]float32{"a": vec}}
	idx, err := Build(context.Background(), chunksOf("a"), emb)
	require.NoError(t, err)

	vec[0] = 9

	rec, ok := idx.Record(0)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, rec.Vector)
	assert.Equal(t, 2, idx.Dimension())

	_, ok = idx.Record(1)
	assert.False(t, ok)
}
