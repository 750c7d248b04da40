package models

import "time"

// AskRecord is one stored question and its outcome. Exactly one of Answer and
// Error is set.
type AskRecord struct {
	ID        string      `json:"id"`
	Question  string      `json:"question"`
	Answer    string      `json:"answer,omitempty"`
	Error     string      `json:"error,omitempty"`
	Status    string      `json:"status"`
	LatencyMS int64       `json:"latency_ms"`
	CreatedAt time.Time   `json:"created_at"`
	Sources   []AskSource `json:"sources"`
}

type AskSource struct {
	AskID   string  `json:"-"`
	Rank    int     `json:"rank"`
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type EvaluationResult struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Question   string    `json:"question"`
	Expected   string    `json:"expected"`
	Answer     string    `json:"answer"`
	Error      string    `json:"error,omitempty"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
