package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/metrics"
	"github.com/pageqa/backend/pkg/circuitbreaker"
	"github.com/pageqa/backend/pkg/logger"
	"github.com/pageqa/backend/pkg/retry"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	OllamaBaseURL = "http://localhost:11434/v1"
)

type providerDefaults struct {
	baseURL        string
	model          string
	embeddingModel string
	needsKey       bool
}

var providers = map[string]providerDefaults{
	ProviderOpenAI: {model: "gpt-4o-mini", embeddingModel: "text-embedding-3-small", needsKey: true},
	ProviderGemini: {baseURL: GeminiBaseURL, model: "gemini-2.0-flash", embeddingModel: "text-embedding-004", needsKey: true},
	ProviderOllama: {baseURL: OllamaBaseURL, model: "llama3.2", embeddingModel: "nomic-embed-text"},
}

type Config struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	BatchSize      int
	MaxAttempts    int
}

// Client talks to an OpenAI-compatible API. It implements domain.Embedder
// and domain.Generator; retries and the circuit breakers live here only.
type Client struct {
	client         *openai.Client
	provider       string
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	batchSize      int
	embedCB        *circuitbreaker.CircuitBreaker
	chatCB         *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg Config) (*Client, error) {
	defaults, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown llm provider %q", domain.ErrInvalidConfig, cfg.Provider)
	}
	if defaults.needsKey && cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm.apiKey is required for provider %s", domain.ErrInvalidConfig, cfg.Provider)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = cfg.Provider
	}

	clientConfig := openai.DefaultConfig(apiKey)
	switch {
	case cfg.BaseURL != "":
		clientConfig.BaseURL = cfg.BaseURL
	case defaults.baseURL != "":
		clientConfig.BaseURL = defaults.baseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaults.model
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaults.embeddingModel
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	breakerConfig := circuitbreaker.Config{
		MaxRequests:      1,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsFailure:        isServerFailure,
		Logger:           logger.GetLogger(),
	}

	retryConfig := retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    isServerFailure,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("base_url", clientConfig.BaseURL),
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		provider:       cfg.Provider,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      maxTokens,
		batchSize:      batchSize,
		embedCB:        circuitbreaker.NewCircuitBreaker("llm-embeddings", breakerConfig),
		chatCB:         circuitbreaker.NewCircuitBreaker("llm-chat", breakerConfig),
		retryConfig:    retryConfig,
	}, nil
}

func (c *Client) Model() string          { return c.model }
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Generate sends the rendered prompt as a single user message. A response
// without choices yields an empty answer, not an error.
func (c *Client) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt.Text,
			},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var answer string

	err := c.chatCB.Execute(func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			answer = ""
			if len(resp.Choices) > 0 {
				answer = resp.Choices[0].Message.Content
			}
			return nil
		})
	})

	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
	}

	return answer, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedDocuments embeds texts in batches of the configured size and returns
// one vector per text, in input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.embedCB.Execute(func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}

				metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))
				return place(embeddings[i:end], resp.Data)
			})
		})

		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// place copies each returned vector to its input position.
func place(dst [][]float32, data []openai.Embedding) error {
	if len(data) != len(dst) {
		return fmt.Errorf("got %d embeddings for %d inputs", len(data), len(dst))
	}

	for i := range dst {
		dst[i] = nil
	}
	for _, d := range data {
		if d.Index < 0 || d.Index >= len(dst) || dst[d.Index] != nil {
			return fmt.Errorf("unexpected embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("empty embedding at index %d", d.Index)
		}
		dst[d.Index] = append([]float32(nil), d.Embedding...)
	}
	return nil
}

// isServerFailure reports whether err is worth retrying: transport errors,
// 429 and 5xx. Other 4xx responses will not change on retry.
func isServerFailure(err error) bool {
	status := statusCode(err)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
