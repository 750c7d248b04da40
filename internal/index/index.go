// Package index holds the in-process embedding index for one document.
//
// An Index is built once from the chunk sequence and is read-only afterwards,
// so Search is safe for concurrent use without locking.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/pkg/logger"
)

type Index struct {
	chunks  []domain.Chunk
	records []domain.EmbeddingRecord
	norms   []float64
	dim     int
}

// Build embeds every chunk and returns the finished index. Either all chunks
// are embedded and validated or an error wrapping domain.ErrEmbeddingUnavailable
// is returned and no index exists.
func Build(ctx context.Context, chunks []domain.Chunk, embedder domain.Embedder) (*Index, error) {
	if len(chunks) == 0 {
		return &Index{}, nil
	}

	startTime := time.Now()

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, asEmbeddingError(err)
	}

	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	dim := len(vectors[0])
	records := make([]domain.EmbeddingRecord, len(chunks))
	norms := make([]float64, len(chunks))

	for i, vec := range vectors {
		if err := validateVector(vec, dim); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunks[i].ID, err)
		}

		stored := make([]float32, dim)
		copy(stored, vec)

		records[i] = domain.EmbeddingRecord{ChunkID: chunks[i].ID, Vector: stored}
		norms[i] = norm(stored)
	}

	idx := &Index{
		chunks:  append([]domain.Chunk(nil), chunks...),
		records: records,
		norms:   norms,
		dim:     dim,
	}

	logger.Info("Embedding index built",
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", dim),
		zap.Duration("duration", time.Since(startTime)),
	)

	return idx, nil
}

// Search ranks every stored chunk by cosine similarity to query, highest
// first, ties broken by chunk order. topK is clamped to [0, Len()].
func (idx *Index) Search(query []float32, topK int) ([]domain.ScoredChunk, error) {
	if len(idx.records) == 0 || topK <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	if err := validateVector(query, idx.dim); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	if topK > len(idx.records) {
		topK = len(idx.records)
	}

	queryNorm := norm(query)
	results := make([]domain.ScoredChunk, len(idx.records))
	for i, rec := range idx.records {
		results[i] = domain.ScoredChunk{
			Chunk: idx.chunks[i],
			Score: cosine(query, rec.Vector, queryNorm, idx.norms[i]),
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	return results[:topK], nil
}

func (idx *Index) Len() int       { return len(idx.records) }
func (idx *Index) Dimension() int { return idx.dim }

// Chunks returns the indexed chunks in document order.
func (idx *Index) Chunks() []domain.Chunk {
	return append([]domain.Chunk(nil), idx.chunks...)
}

// Record returns the embedding record of a chunk.
func (idx *Index) Record(chunkID int) (domain.EmbeddingRecord, bool) {
	if chunkID < 0 || chunkID >= len(idx.records) {
		return domain.EmbeddingRecord{}, false
	}
	return idx.records[chunkID], true
}

// CosineSimilarity is (a·b)/(|a||b|); it is 0 for a zero-norm vector or
// mismatched lengths.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return dot / (normA * normB)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func validateVector(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrEmbeddingUnavailable)
	}
	if len(vec) != dim {
		return fmt.Errorf("%w: %w: got %d, want %d", domain.ErrEmbeddingUnavailable, domain.ErrDimensionMismatch, len(vec), dim)
	}
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-numeric component", domain.ErrEmbeddingUnavailable)
		}
	}
	return nil
}

func asEmbeddingError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
}
