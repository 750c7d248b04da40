package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pageqa/backend/internal/pipeline"
)

type HealthHandler struct {
	service AnswerService
}

func NewHealthHandler(service AnswerService) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready is 200 only once the index is built.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	state := h.service.State()
	if state != pipeline.StateReady {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": state.String(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
