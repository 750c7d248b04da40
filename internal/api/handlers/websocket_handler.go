package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/pipeline"
	"github.com/pageqa/backend/pkg/logger"
)

type WebSocketHandler struct {
	service AnswerService
}

func NewWebSocketHandler(service AnswerService) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

type wsSource struct {
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// HandleConnection reads {"type":"question","content":"..."} messages and
// answers each with a status frame, the answer split into word chunks, and a
// complete frame. Failures are sent as an error frame.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "question" {
			continue
		}

		logger.Info("Processing WebSocket question", zap.String("question", msg.Content))

		if err := h.streamResponse(c, msg.Content); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, question string) error {
	if err := h.sendChunk(c, "status", "Processing question..."); err != nil {
		return err
	}

	result := h.service.Ask(context.Background(), question)
	if !result.OK() {
		return h.sendError(c, result.Error)
	}

	words := splitIntoWords(result.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, result)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result pipeline.AskResult) error {
	sources := make([]wsSource, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = wsSource{ChunkID: s.Chunk.ID, Score: s.Score}
	}

	msg := map[string]interface{}{
		"type":       "complete",
		"message_id": result.ID,
		"answer":     result.Answer,
		"sources":    sources,
		"latency_ms": result.Latency.Milliseconds(),
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	return c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
