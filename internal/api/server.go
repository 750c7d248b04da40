// Package api assembles the fiber application around a pipeline.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/pageqa/backend/internal/api/handlers"
	"github.com/pageqa/backend/internal/metrics"
	"github.com/pageqa/backend/internal/middleware/ratelimit"
	"github.com/pageqa/backend/internal/middleware/security"
	"github.com/pageqa/backend/internal/middleware/validation"
	"github.com/pageqa/backend/pkg/logger"
)

type Options struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	CorsOrigins       string
	StaticDir         string
	MaxQuestionLength int
	RequestsPerMinute int
	Metrics           bool
	RequestLog        bool
	Development       bool
}

// Server is the fiber app plus the background resources its middleware owns.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

// NewServer wires routes for service. history may be nil.
func NewServer(opts Options, service handlers.AnswerService, history handlers.HistoryStore) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.RequestLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CorsOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(opts.CorsOrigins, ","),
		IsDevelopment:  opts.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: opts.RequestsPerMinute,
		Logger:               logger.GetLogger(),
	})

	askHandler := handlers.NewAskHandler(service)
	healthHandler := handlers.NewHealthHandler(service)
	wsHandler := handlers.NewWebSocketHandler(service)

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)
	api.Get("/debug", askHandler.HandleDebug)
	api.Post("/ask",
		limiter.Middleware(),
		validation.QuestionBody(validation.Config{
			MaxQuestionLength: opts.MaxQuestionLength,
			Logger:            logger.GetLogger(),
		}),
		askHandler.HandleAsk,
	)

	if history != nil {
		api.Get("/history", handlers.NewHistoryHandler(history).GetHistory)
	}

	app.Use("/ws", limiter.Middleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/ask", websocket.New(wsHandler.HandleConnection))

	if opts.Metrics {
		app.Get("/metrics", metrics.MetricsHandler())
	}

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}
