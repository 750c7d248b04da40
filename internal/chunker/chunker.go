// Package chunker splits raw page text into overlapping, bounded-size chunks.
//
// The window walks the text left to right: a chunk starts at offset k and ends
// at most size runes later, and the next chunk starts overlap runes before the
// previous end. When a chunk would end mid-word, the end is pulled back to the
// last line break or whitespace inside the tail overlap runes; with no such
// boundary the chunk is hard-cut at size.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pageqa/backend/internal/domain"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters. It fails with domain.ErrInvalidConfig
// unless 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than size %d", domain.ErrInvalidConfig, overlap, size)
	}

	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk is a one-shot helper around New and Split.
func Chunk(text string, size, overlap int) ([]domain.Chunk, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns chunks in document order. Empty or whitespace-only text yields
// no chunks.
func (c *Chunker) Split(text string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	chunks := make([]domain.Chunk, 0, n/(c.size-c.overlap)+1)
	start := 0

	for {
		end := start + c.size
		last := end >= n
		if last {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}

		chunks = append(chunks, domain.Chunk{
			ID:          len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})

		if last {
			break
		}
		start = end - c.overlap
	}

	return chunks
}

// boundary picks the end of a non-final chunk. The search window is the tail
// overlap runes, but never closer to start than overlap+1 so the next chunk
// always starts strictly after this one.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) {
		return end
	}

	lo := end - c.overlap
	if floor := start + c.overlap + 1; lo < floor {
		lo = floor
	}

	for i := end - 1; i >= lo; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return end
}
