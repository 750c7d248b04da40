package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/api"
	"github.com/pageqa/backend/internal/api/handlers"
	"github.com/pageqa/backend/internal/app"
	"github.com/pageqa/backend/internal/metrics"
	"github.com/pageqa/backend/pkg/config"
	appLogger "github.com/pageqa/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting page QA server", zap.String("source_url", cfg.Source.URL))

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer application.Close()

	if err := application.Pipeline.Initialize(ctx, cfg.Source.URL); err != nil {
		appLogger.Fatal("Failed to index source page", zap.Error(err))
	}

	var history handlers.HistoryStore
	if application.History != nil {
		history = application.History
	}

	server := api.NewServer(api.Options{
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:         cfg.Server.BodyLimit,
		CorsOrigins:       cfg.Server.CorsOrigins,
		StaticDir:         cfg.Server.StaticDir,
		MaxQuestionLength: cfg.Retrieval.MaxQuestionLen,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Metrics:           cfg.Metrics.Enabled,
		RequestLog:        cfg.Logging.Level == "debug",
		Development:       cfg.Logging.Format == "console",
	}, application.Pipeline, history)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	appLogger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
