package domain

import "context"

// Document is the scraped text of one source URL. RawText never changes after fetch.
type Document struct {
	URL     string
	RawText string
}

// Chunk is a contiguous slice of Document.RawText. Offsets are rune offsets,
// EndOffset exclusive.
type Chunk struct {
	ID          int
	Text        string
	StartOffset int
	EndOffset   int
}

// EmbeddingRecord pairs a chunk with its vector.
type EmbeddingRecord struct {
	ChunkID int
	Vector  []float32
}

// ScoredChunk is one entry of a retrieval result.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Prompt is the grounded request handed to the generator.
type Prompt struct {
	Context   string
	Input     string
	Text      string
	ChunkIDs  []int
	NoContext bool
}

// Fetcher is the scraping collaborator.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Embedder is the embedding collaborator. Vector dimension is fixed for the
// lifetime of one Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator is the text generation collaborator. An empty string with a nil
// error means the model produced no answer.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}
