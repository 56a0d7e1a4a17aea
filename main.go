package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brazier/answer"
	"brazier/cache"
	"brazier/config"
	"brazier/database"
	"brazier/embedding"
	"brazier/events"
	"brazier/ingest"
	"brazier/llmclient"
	"brazier/retrieval"
	"brazier/web"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load config (which includes log level setting)
	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	store, err := database.NewPostgresStore(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx, cfg.EmbeddingDimensions); err != nil {
		logger.Fatal("Failed to ensure database schema", zap.Error(err))
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	store.SetEventBus(bus)

	llm := llmclient.New(cfg, logger)

	pipeline := embedding.NewPipeline(store, llm, cfg.EmbeddingBatchSize, cfg.EmbeddingCallDelay, logger)
	understander := retrieval.NewUnderstander(llm, cfg.ExtractModel, logger)
	retriever := retrieval.NewRetriever(store, llm, understander, cfg, logger)
	answerService := answer.NewService(llm, retriever, store, store, cfg, logger)

	analyzer := ingest.NewAnalyzer(llm, cfg.ExtractModel, cfg.MinAnalysisChars, logger)
	importer := ingest.NewImporter(store, logger)

	analysisCache, err := cache.New(cfg.AnalysisCacheSize, cfg.AnalysisCacheTTL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize analysis cache", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// New and edited units get embedded as they arrive; the batch endpoint
	// remains the catch-up path for anything this worker misses.
	unitEvents, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go pipeline.Watch(ctx, unitEvents)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				analysisCache.CleanupExpired()
			}
		}
	}()

	webServer := web.NewServer(web.Services{
		Answer:   answerService,
		Pipeline: pipeline,
		Analyzer: analyzer,
		Importer: importer,
		Cache:    analysisCache,
		Store:    store,
	}, logger, cfg)

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting brazier knowledge service", zap.String("port", port))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}
