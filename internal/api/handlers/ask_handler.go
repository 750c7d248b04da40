package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/middleware/validation"
	"github.com/pageqa/backend/internal/pipeline"
)

type AskHandler struct {
	service AnswerService
}

func NewAskHandler(service AnswerService) *AskHandler {
	return &AskHandler{service: service}
}

// HandleAsk answers {"question": "..."} with {"answer": "..."} or
// {"error": "..."}.
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	question, ok := c.Locals(validation.QuestionKey).(string)
	if !ok {
		var req struct {
			Question *string `json:"question"`
		}
		if err := c.BodyParser(&req); err != nil || req.Question == nil || strings.TrimSpace(*req.Question) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": pipeline.MsgEmptyQuestion,
			})
		}
		question = *req.Question
	}

	result := h.service.Ask(c.UserContext(), question)
	c.Set("X-Ask-ID", result.ID)

	if !result.OK() {
		return c.Status(statusFor(result.Err)).JSON(fiber.Map{
			"error": result.Error,
		})
	}

	return c.JSON(fiber.Map{
		"answer": result.Answer,
	})
}

func (h *AskHandler) HandleDebug(c *fiber.Ctx) error {
	snapshot, err := h.service.DebugSnapshot()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Index is not ready.",
			"state": h.service.State().String(),
		})
	}

	return c.JSON(fiber.Map{
		"raw":    snapshot.Raw,
		"chunks": snapshot.Chunks,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotReady):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, domain.ErrQuestionTooLong):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
