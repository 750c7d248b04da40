// Package pipeline orchestrates the question answering flow over one page:
// fetch, chunk and index once, then answer any number of questions against
// the fixed index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/chunker"
	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/index"
	"github.com/pageqa/backend/internal/metrics"
	"github.com/pageqa/backend/internal/prompt"
	"github.com/pageqa/backend/internal/retriever"
	"github.com/pageqa/backend/pkg/logger"
)

// User-visible messages of the ask boundary.
const (
	NoAnswer             = "No answer available."
	MsgEmptyQuestion     = "Question is required and must be a string."
	MsgQuestionTooLong   = "Question is too long."
	MsgNotReady          = "The page is still being indexed. Please try again shortly."
	MsgFailed            = "The page could not be indexed. Questions cannot be answered."
	MsgAnswerUnavailable = "Answer unavailable: the language model could not be reached. Please try again later."
	MsgProcessingFailed  = "Failed to process your question. Please try again later."
)

// Ask outcome labels, used for metrics and history.
const (
	StatusAnswered = "answered"
	StatusNoAnswer = "no_answer"
	StatusRejected = "rejected"
	StatusError    = "error"
)

type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	MaxContextChars int
	MaxQuestionLen  int
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:       chunker.DefaultChunkSize,
		ChunkOverlap:    chunker.DefaultChunkOverlap,
		TopK:            4,
		MaxContextChars: 4000,
		MaxQuestionLen:  2000,
		EmbedTimeout:    30 * time.Second,
		GenerateTimeout: 60 * time.Second,
	}
}

// AskResult carries either Answer or Error, never both.
type AskResult struct {
	ID      string               `json:"id"`
	Answer  string               `json:"answer,omitempty"`
	Error   string               `json:"error,omitempty"`
	Status  string               `json:"status"`
	Sources []domain.ScoredChunk `json:"-"`
	Latency time.Duration        `json:"-"`
	// Err is the classified cause of an error result.
	Err error `json:"-"`
}

func (r AskResult) OK() bool { return r.Err == nil }

// Snapshot is the read-only view of a built index.
type Snapshot struct {
	URL    string   `json:"url"`
	Raw    string   `json:"raw"`
	Chunks []string `json:"chunks"`
}

// Recorder receives every answered or failed question.
type Recorder interface {
	RecordAsk(ctx context.Context, question string, result AskResult) error
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

type Pipeline struct {
	fetcher   domain.Fetcher
	embedder  domain.Embedder
	generator domain.Generator
	chunker   *chunker.Chunker
	opts      Options
	recorder  Recorder

	// state is the readiness gate. Fields below are written only while
	// Indexing and are read-only once state is Ready or Failed.
	state     atomic.Int32
	doc       domain.Document
	index     *index.Index
	retriever *retriever.Retriever
	failure   error
}

// New validates opts and returns an Uninitialized pipeline.
func New(fetcher domain.Fetcher, embedder domain.Embedder, generator domain.Generator, opts Options, options ...Option) (*Pipeline, error) {
	c, err := chunker.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if opts.TopK < 0 {
		return nil, fmt.Errorf("%w: topK must not be negative, got %d", domain.ErrInvalidConfig, opts.TopK)
	}

	p := &Pipeline{
		fetcher:   fetcher,
		embedder:  embedder,
		generator: generator,
		chunker:   c,
		opts:      opts,
	}
	for _, o := range options {
		o(p)
	}

	metrics.PipelineState.Set(float64(StateUninitialized))
	return p, nil
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Err returns the cause of a failed initialization.
func (p *Pipeline) Err() error {
	if p.State() != StateFailed {
		return nil
	}
	return p.failure
}

// Initialize fetches url, chunks the text and builds the embedding index. It
// runs at most once per pipeline; any error leaves the pipeline Failed.
func (p *Pipeline) Initialize(ctx context.Context, url string) error {
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateIndexing)) {
		return fmt.Errorf("%w: state is %s", domain.ErrAlreadyInitialized, p.State())
	}
	metrics.PipelineState.Set(float64(StateIndexing))

	startTime := time.Now()
	logger.Info("Indexing source page", zap.String("url", url))

	if err := p.build(ctx, url); err != nil {
		p.failure = err
		p.setState(StateFailed)
		logger.Error("Indexing failed", zap.String("url", url), zap.Error(err))
		return err
	}

	p.setState(StateReady)
	metrics.IndexBuildDuration.Observe(time.Since(startTime).Seconds())
	metrics.IndexChunks.Set(float64(p.index.Len()))

	logger.Info("Pipeline ready",
		zap.String("url", url),
		zap.Int("chars", utf8.RuneCountInString(p.doc.RawText)),
		zap.Int("chunks", p.index.Len()),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

func (p *Pipeline) build(ctx context.Context, url string) error {
	text, err := p.fetcher.FetchText(ctx, url)
	if err != nil {
		if errors.Is(err, domain.ErrFetch) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}

	chunks := p.chunker.Split(text)
	logger.Debug("Text chunked",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", p.chunker.Size()),
		zap.Int("chunk_overlap", p.chunker.Overlap()),
	)

	buildCtx, cancel := p.withTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()

	idx, err := index.Build(buildCtx, chunks, p.embedder)
	if err != nil {
		return err
	}

	p.doc = domain.Document{URL: url, RawText: text}
	p.index = idx
	p.retriever = retriever.New(p.embedder, idx, p.opts.EmbedTimeout)
	return nil
}

// Ask answers one question. It never fails across this boundary: the result
// holds either an answer or a user-visible error.
func (p *Pipeline) Ask(ctx context.Context, question string) AskResult {
	startTime := time.Now()
	result := p.ask(ctx, question)
	result.Latency = time.Since(startTime)

	metrics.AskTotal.WithLabelValues(result.Status).Inc()
	metrics.AskDuration.WithLabelValues(result.Status).Observe(result.Latency.Seconds())

	if result.Err != nil {
		logger.Warn("Question failed",
			zap.String("ask_id", result.ID),
			zap.String("status", result.Status),
			zap.Error(result.Err),
		)
	} else {
		logger.Info("Question answered",
			zap.String("ask_id", result.ID),
			zap.String("status", result.Status),
			zap.Int("sources", len(result.Sources)),
			zap.Int64("latency_ms", result.Latency.Milliseconds()),
		)
	}

	if p.recorder != nil && result.Status != StatusRejected {
		if err := p.recorder.RecordAsk(ctx, question, result); err != nil {
			logger.Warn("Failed to record question", zap.String("ask_id", result.ID), zap.Error(err))
		}
	}

	return result
}

func (p *Pipeline) ask(ctx context.Context, question string) AskResult {
	id := uuid.New().String()

	switch p.State() {
	case StateReady:
	case StateFailed:
		return rejected(id, MsgFailed, domain.ErrNotReady)
	default:
		return rejected(id, MsgNotReady, domain.ErrNotReady)
	}

	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return rejected(id, MsgEmptyQuestion, domain.ErrEmptyQuestion)
	}
	if p.opts.MaxQuestionLen > 0 && utf8.RuneCountInString(trimmed) > p.opts.MaxQuestionLen {
		return rejected(id, MsgQuestionTooLong, domain.ErrQuestionTooLong)
	}

	logger.Info("Received question", zap.String("ask_id", id), zap.String("question", question))

	results, err := p.retriever.Retrieve(ctx, trimmed, p.opts.TopK)
	if err != nil {
		return AskResult{ID: id, Error: MsgProcessingFailed, Status: StatusError, Err: err}
	}
	metrics.RetrievedChunks.Observe(float64(len(results)))

	pr := prompt.Assemble(question, results, p.opts.MaxContextChars)
	metrics.ContextChunks.Observe(float64(len(pr.ChunkIDs)))
	logger.Debug("Prompt assembled",
		zap.String("ask_id", id),
		zap.Ints("chunk_ids", pr.ChunkIDs),
		zap.Bool("no_context", pr.NoContext),
		zap.String("prompt", pr.Text),
	)

	answer, err := p.generate(ctx, pr)
	if err != nil {
		return AskResult{ID: id, Error: MsgAnswerUnavailable, Status: StatusError, Sources: results, Err: err}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return AskResult{ID: id, Answer: NoAnswer, Status: StatusNoAnswer, Sources: results}
	}

	return AskResult{ID: id, Answer: answer, Status: StatusAnswered, Sources: results}
}

func (p *Pipeline) generate(ctx context.Context, pr domain.Prompt) (string, error) {
	genCtx, cancel := p.withTimeout(ctx, p.opts.GenerateTimeout)
	defer cancel()

	answer, err := p.generator.Generate(genCtx, pr)
	if err == nil {
		return answer, nil
	}
	if errors.Is(err, domain.ErrGenerationUnavailable) {
		return "", err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: generate timed out after %s", domain.ErrGenerationUnavailable, p.opts.GenerateTimeout)
	}
	return "", fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
}

// DebugSnapshot returns the raw text and chunk texts of the built index.
func (p *Pipeline) DebugSnapshot() (Snapshot, error) {
	if s := p.State(); s != StateReady {
		return Snapshot{}, fmt.Errorf("%w: state is %s", domain.ErrNotReady, s)
	}

	chunks := p.index.Chunks()
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	return Snapshot{URL: p.doc.URL, Raw: p.doc.RawText, Chunks: texts}, nil
}

// Embedder exposes the embedding collaborator for answer scoring.
func (p *Pipeline) Embedder() domain.Embedder { return p.embedder }

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	metrics.PipelineState.Set(float64(s))
}

func (p *Pipeline) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func rejected(id, msg string, err error) AskResult {
	return AskResult{ID: id, Error: msg, Status: StatusRejected, Err: err}
}
