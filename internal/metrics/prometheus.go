package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageqa_ask_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	AskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pageqa_ask_duration_seconds",
			Help:    "Question processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pageqa_retrieved_chunks",
			Help:    "Number of chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)

	ContextChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pageqa_context_chunks",
			Help:    "Number of chunks that fit the context budget per question",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)

	IndexChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pageqa_index_chunks",
			Help: "Number of chunks in the embedding index",
		},
	)

	IndexBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pageqa_index_build_duration_seconds",
			Help:    "Time spent fetching, chunking and embedding the source page",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	PipelineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pageqa_pipeline_state",
			Help: "Pipeline state (0 uninitialized, 1 indexing, 2 ready, 3 failed)",
		},
	)

	EmbeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageqa_embedding_cache_total",
			Help: "Embedding cache lookups",
		},
		[]string{"cache_type", "result"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageqa_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(AskTotal)
		prometheus.MustRegister(AskDuration)
		prometheus.MustRegister(RetrievedChunks)
		prometheus.MustRegister(ContextChunks)
		prometheus.MustRegister(IndexChunks)
		prometheus.MustRegister(IndexBuildDuration)
		prometheus.MustRegister(PipelineState)
		prometheus.MustRegister(EmbeddingCache)
		prometheus.MustRegister(LLMTokensUsed)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
