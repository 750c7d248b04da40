package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QuestionKey is the fiber.Ctx local holding the sanitized question.
const QuestionKey = "question"

const (
	MsgQuestionRequired = "Question is required and must be a string."
	MsgQuestionTooLong  = "Question exceeds maximum length."
	MsgInvalidContent   = "Invalid question content."
	MsgUnsupportedType  = "Unsupported content type."
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

var validate = validator.New()

type Config struct {
	MaxQuestionLength int
	Logger            *zap.Logger
}

// QuestionBody validates a JSON {"question": "..."} body and stores the
// sanitized question under QuestionKey.
func QuestionBody(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rule := fmt.Sprintf("max=%d", cfg.MaxQuestionLength)

	return func(c *fiber.Ctx) error {
		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !strings.Contains(contentType, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": MsgUnsupportedType,
			})
		}

		var req map[string]any
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": MsgQuestionRequired,
			})
		}

		question, ok := req["question"].(string)
		question = sanitizeString(question)
		if !ok || validate.Var(question, "required") != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": MsgQuestionRequired,
			})
		}

		if validate.Var(question, rule) != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": MsgQuestionTooLong,
			})
		}

		if containsXSS(question) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("question", question),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": MsgInvalidContent,
			})
		}

		c.Locals(QuestionKey, question)
		return c.Next()
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
