package domain

import "errors"

var (
	// ErrInvalidConfig indicates bad chunking or retrieval parameters. Fatal at startup.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrFetch indicates the source page could not be scraped. Fatal at startup.
	ErrFetch = errors.New("fetch failed")

	// ErrEmbeddingUnavailable indicates the embedding service failed, timed out
	// or returned malformed vectors.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable indicates the generation service failed or timed out.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	ErrNotReady           = errors.New("pipeline not ready")
	ErrAlreadyInitialized = errors.New("pipeline already initialized")
	ErrEmptyQuestion      = errors.New("question is empty")
	ErrQuestionTooLong    = errors.New("question is too long")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)
