package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/storage/models"
	"github.com/pageqa/backend/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type HistoryStore interface {
	ListAsks(ctx context.Context, limit int) ([]models.AskRecord, error)
}

type HistoryHandler struct {
	store HistoryStore
}

func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.store.ListAsks(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to load ask history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
