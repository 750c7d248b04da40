package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/pipeline"
	"github.com/pageqa/backend/internal/storage/models"
	"github.com/pageqa/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: sqlite has a single writer, and ":memory:" databases are
	// per connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS asks (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT,
		error TEXT,
		status TEXT NOT NULL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_asks_created ON asks(created_at);
	CREATE INDEX IF NOT EXISTS idx_asks_status ON asks(status);

	CREATE TABLE IF NOT EXISTS ask_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ask_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		chunk_id INTEGER NOT NULL,
		score REAL NOT NULL,
		FOREIGN KEY (ask_id) REFERENCES asks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_ask ON ask_sources(ask_id);

	CREATE TABLE IF NOT EXISTS evaluation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		question TEXT NOT NULL,
		expected TEXT NOT NULL,
		answer TEXT,
		error TEXT,
		cosine_similarity REAL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_eval_run ON evaluation_results(run_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// RecordAsk stores an ask and its retrieved chunks in one transaction.
func (c *Client) RecordAsk(ctx context.Context, question string, result pipeline.AskResult) error {
	record := models.AskRecord{
		ID:        result.ID,
		Question:  question,
		Answer:    result.Answer,
		Error:     result.Error,
		Status:    result.Status,
		LatencyMS: result.Latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	for i, s := range result.Sources {
		record.Sources = append(record.Sources, models.AskSource{
			AskID:   result.ID,
			Rank:    i + 1,
			ChunkID: s.Chunk.ID,
			Score:   s.Score,
		})
	}

	return c.InsertAsk(ctx, &record)
}

func (c *Client) InsertAsk(ctx context.Context, record *models.AskRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO asks (id, question, answer, error, status, latency_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Question,
		record.Answer,
		record.Error,
		record.Status,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ask: %w", err)
	}

	for _, s := range record.Sources {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ask_sources (ask_id, rank, chunk_id, score) VALUES (?, ?, ?, ?)`,
			record.ID, s.Rank, s.ChunkID, s.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ask source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ask: %w", err)
	}

	logger.Debug("Ask recorded",
		zap.String("ask_id", record.ID),
		zap.String("status", record.Status),
		zap.Int("sources", len(record.Sources)),
	)
	return nil
}

// ListAsks returns the most recent asks first, with their sources.
func (c *Client) ListAsks(ctx context.Context, limit int) ([]models.AskRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, question, answer, error, status, latency_ms, created_at
		FROM asks
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ask history: %w", err)
	}

	records := []models.AskRecord{}
	for rows.Next() {
		var (
			r         models.AskRecord
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &r.Error, &r.Status, &r.LatencyMS, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read ask history: %w", err)
	}
	rows.Close()

	for i := range records {
		sources, err := c.askSources(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Sources = sources
	}

	return records, nil
}

func (c *Client) askSources(ctx context.Context, askID string) ([]models.AskSource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT rank, chunk_id, score FROM ask_sources WHERE ask_id = ? ORDER BY rank`, askID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ask sources: %w", err)
	}
	defer rows.Close()

	sources := []models.AskSource{}
	for rows.Next() {
		s := models.AskSource{AskID: askID}
		if err := rows.Scan(&s.Rank, &s.ChunkID, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func (c *Client) InsertEvaluationResult(ctx context.Context, result *models.EvaluationResult) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO evaluation_results (run_id, question, expected, answer, error, cosine_similarity, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Question,
		result.Expected,
		result.Answer,
		result.Error,
		result.Similarity,
		result.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation result: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

func (c *Client) GetEvaluationRun(ctx context.Context, runID string) ([]models.EvaluationResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, run_id, question, expected, answer, error, cosine_similarity, created_at
		FROM evaluation_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation run: %w", err)
	}
	defer rows.Close()

	var results []models.EvaluationResult
	for rows.Next() {
		var (
			r         models.EvaluationResult
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Question, &r.Expected, &r.Answer, &r.Error, &r.Similarity, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation result: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		results = append(results, r)
	}

	return results, rows.Err()
}
