package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/index"
	"github.com/pageqa/backend/internal/pipeline"
	"github.com/pageqa/backend/internal/storage/models"
	"github.com/pageqa/backend/pkg/logger"
)

// Classification thresholds on answer/expected cosine similarity.
const (
	FullyRelevantThreshold = 0.8
	ModerateThreshold      = 0.5
)

const (
	ClassIrrelevant    = "irrelevant"
	ClassModerate      = "moderate"
	ClassFullyRelevant = "fully_relevant"
	ClassError         = "error"
)

type Asker interface {
	Ask(ctx context.Context, question string) pipeline.AskResult
}

type ResultStore interface {
	InsertEvaluationResult(ctx context.Context, result *models.EvaluationResult) error
}

type Evaluator struct {
	asker    Asker
	embedder domain.Embedder
	store    ResultStore
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Question string `json:"question"`
	Expected string `json:"expected"`
}

type ItemResult struct {
	Question       string
	Expected       string
	Answer         string
	Error          string
	Similarity     float64
	Classification string
}

type Report struct {
	RunID               string
	TotalQueries        int
	AnsweredCount       int
	ErrorCount          int
	IrrelevantCount     int
	ModerateCount       int
	FullyRelevantCount  int
	AvgCosineSimilarity float64
	Items               []ItemResult
}

// NewEvaluator scores answers from asker against expected answers using
// embedder. store may be nil.
func NewEvaluator(asker Asker, embedder domain.Embedder, store ResultStore) *Evaluator {
	return &Evaluator{
		asker:    asker,
		embedder: embedder,
		store:    store,
	}
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		RunID:        uuid.New().String(),
		TotalQueries: len(dataset.Items),
	}

	var totalCosineSim float64

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result := e.evaluateItem(ctx, item)
		report.Items = append(report.Items, result)

		switch result.Classification {
		case ClassError:
			report.ErrorCount++
		case ClassIrrelevant:
			report.IrrelevantCount++
		case ClassModerate:
			report.ModerateCount++
		case ClassFullyRelevant:
			report.FullyRelevantCount++
		}
		if result.Classification != ClassError {
			report.AnsweredCount++
			totalCosineSim += result.Similarity
		}

		e.save(ctx, report.RunID, result)
	}

	if report.AnsweredCount > 0 {
		report.AvgCosineSimilarity = totalCosineSim / float64(report.AnsweredCount)
	}

	logger.Info("Dataset evaluation completed",
		zap.String("run_id", report.RunID),
		zap.Int("total", report.TotalQueries),
		zap.Int("errors", report.ErrorCount),
		zap.Int("irrelevant", report.IrrelevantCount),
		zap.Int("moderate", report.ModerateCount),
		zap.Int("fully_relevant", report.FullyRelevantCount),
		zap.Float64("avg_cosine_similarity", report.AvgCosineSimilarity),
	)

	return report, nil
}

func (e *Evaluator) evaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	result := ItemResult{Question: item.Question, Expected: item.Expected}

	ask := e.asker.Ask(ctx, item.Question)
	if !ask.OK() {
		result.Error = ask.Error
		result.Classification = ClassError
		return result
	}
	result.Answer = ask.Answer

	sim, err := e.calculateCosineSimilarity(ctx, ask.Answer, item.Expected)
	if err != nil {
		logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
		result.Error = err.Error()
		result.Classification = ClassError
		return result
	}

	result.Similarity = sim
	result.Classification = Classify(sim)
	return result
}

func (e *Evaluator) calculateCosineSimilarity(ctx context.Context, text1, text2 string) (float64, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text1, text2})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, fmt.Errorf("%w: got %d vectors for 2 texts", domain.ErrEmbeddingUnavailable, len(vectors))
	}

	return index.CosineSimilarity(vectors[0], vectors[1]), nil
}

func (e *Evaluator) save(ctx context.Context, runID string, r ItemResult) {
	if e.store == nil {
		return
	}

	err := e.store.InsertEvaluationResult(ctx, &models.EvaluationResult{
		RunID:      runID,
		Question:   r.Question,
		Expected:   r.Expected,
		Answer:     r.Answer,
		Error:      r.Error,
		Similarity: r.Similarity,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to store evaluation result", zap.String("run_id", runID), zap.Error(err))
	}
}

func Classify(similarity float64) string {
	switch {
	case similarity >= FullyRelevantThreshold:
		return ClassFullyRelevant
	case similarity >= ModerateThreshold:
		return ClassModerate
	default:
		return ClassIrrelevant
	}
}

// LoadDataset reads either {"items": [...]} or a bare array of items. Items
// without a question are rejected.
func LoadDataset(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &dataset.Items)
	} else {
		err = json.Unmarshal(data, &dataset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Question) == "" {
			return nil, fmt.Errorf("dataset item %d has no question", i+1)
		}
	}

	return &dataset, nil
}

func GenerateReport(report *Report) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Run: %s
Total Queries: %d
Answered: %d
Errors: %d

Classifications:
- Irrelevant: %d (%.1f%%)
- Moderately Relevant: %d (%.1f%%)
- Fully Relevant: %d (%.1f%%)

Cosine Similarity: %.3f
`,
		report.RunID,
		report.TotalQueries,
		report.AnsweredCount,
		report.ErrorCount,
		report.IrrelevantCount, percentage(report.IrrelevantCount, report.TotalQueries),
		report.ModerateCount, percentage(report.ModerateCount, report.TotalQueries),
		report.FullyRelevantCount, percentage(report.FullyRelevantCount, report.TotalQueries),
		report.AvgCosineSimilarity,
	)
}

func percentage(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
