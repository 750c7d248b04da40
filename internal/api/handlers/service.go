package handlers

import (
	"context"

	"github.com/pageqa/backend/internal/pipeline"
)

// AnswerService is the part of the pipeline the transport uses.
type AnswerService interface {
	Ask(ctx context.Context, question string) pipeline.AskResult
	State() pipeline.State
	DebugSnapshot() (pipeline.Snapshot, error)
}
