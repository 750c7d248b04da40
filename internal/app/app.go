// Package app builds the pipeline and its backing services from config.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/cache"
	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/llm"
	"github.com/pageqa/backend/internal/pipeline"
	"github.com/pageqa/backend/internal/scraper"
	"github.com/pageqa/backend/internal/storage/sqlite"
	"github.com/pageqa/backend/pkg/config"
	"github.com/pageqa/backend/pkg/logger"
)

const fetchTimeout = 30 * time.Second

// App holds the pipeline and everything it needs released on shutdown.
type App struct {
	Pipeline *pipeline.Pipeline
	LLM      *llm.Client
	// History is nil when disabled.
	History *sqlite.Client

	closers []func() error
}

// New wires the llm client, the embedding cache, the scraper and the optional
// history store into an uninitialized pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	llmClient, err := llm.NewClient(llm.Config{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		BatchSize:      cfg.LLM.BatchSize,
		MaxAttempts:    cfg.LLM.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	a.LLM = llmClient

	embedder, err := a.embedder(ctx, cfg, llmClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	var options []pipeline.Option
	if cfg.History.Enabled {
		history, err := sqlite.NewClient(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		a.closers = append(a.closers, history.Close)

		if err := history.InitSchema(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize history schema: %w", err)
		}
		a.History = history
		options = append(options, pipeline.WithRecorder(history))
	}

	p, err := pipeline.New(scraper.NewClient(fetchTimeout), embedder, llmClient, PipelineOptions(cfg), options...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p

	return a, nil
}

// PipelineOptions maps the chunking, retrieval and timeout settings.
func PipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ChunkSize:       cfg.Chunking.Size,
		ChunkOverlap:    cfg.Chunking.Overlap,
		TopK:            cfg.Retrieval.TopK,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		MaxQuestionLen:  cfg.Retrieval.MaxQuestionLen,
		EmbedTimeout:    time.Duration(cfg.LLM.EmbedTimeoutSec) * time.Second,
		GenerateTimeout: time.Duration(cfg.LLM.GenerateTimeoutSec) * time.Second,
	}
}

func (a *App) embedder(ctx context.Context, cfg *config.Config, next *llm.Client) (domain.Embedder, error) {
	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute

	var store cache.Store
	switch cfg.Cache.Backend {
	case cache.BackendMemory:
		store = cache.NewMemoryStore(ttl)
	case cache.BackendRedis:
		redisStore, err := cache.NewRedisStore(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect embedding cache: %w", err)
		}
		a.closers = append(a.closers, redisStore.Close)
		store = redisStore
	default:
		return next, nil
	}

	logger.Info("Embedding cache enabled",
		zap.String("backend", store.Name()),
		zap.Duration("ttl", ttl),
	)
	return cache.NewEmbedder(next, store, next.EmbeddingModel(), ttl), nil
}

// Close releases backing stores in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
