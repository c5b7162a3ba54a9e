package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quizsolver/internal/api"
	"quizsolver/internal/config"
	"quizsolver/internal/executor"
	"quizsolver/internal/extractor"
	"quizsolver/internal/fetcher"
	"quizsolver/internal/llm"
	"quizsolver/internal/monitoring"
	"quizsolver/internal/planner"
	"quizsolver/internal/proxy"
	"quizsolver/internal/resources"
	"quizsolver/internal/solver"
	"quizsolver/internal/storage"
	"quizsolver/internal/submitter"
)

func main() {
	// Initialize structured logger, teed with the in-memory ring the API
	// serves at /api/logs.
	logBuffer := monitoring.NewLogBuffer(200, zapcore.InfoLevel)
	base, _ := zap.NewProduction()
	logger := zap.New(zapcore.NewTee(base.Core(), logBuffer))
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer. Both stores are optional: without them the
	// solver still runs, it just loses the archive and dedupe features.
	var pgStore *storage.PostgresStore
	if cfg.PostgresURL != "" {
		pgStore, err = storage.NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pgStore.Close()
	}
	var redisStore *storage.RedisStore
	if cfg.RedisAddr != "" {
		redisStore = storage.NewRedisStore(cfg.RedisAddr)
	}

	metrics := monitoring.NewMetrics()

	// Initialize the solving pipeline
	llmClient := llm.NewClient(llm.Config{
		Token:   cfg.AIPipeToken,
		Model:   cfg.LLMModel,
		BaseURL: cfg.AIPipeBaseURL,
	}, logger)

	rotation := proxy.NewRotation(cfg.Proxies())
	pageFetcher := fetcher.New(time.Duration(cfg.FetchTimeout)*time.Second, rotation, logger)
	questionExtractor := extractor.New(llmClient, time.Duration(cfg.LLMTimeout)*time.Second, logger)
	planGenerator := planner.New(llmClient, time.Duration(cfg.LLMTimeout)*time.Second, logger)
	resourceFetcher := resources.New(time.Duration(cfg.FetchTimeout)*time.Second, rotation, logger)
	planExecutor := executor.New(cfg.PythonBin, time.Duration(cfg.ExecTimeout)*time.Second, logger)
	answerSubmitter := submitter.New(time.Duration(cfg.SubmitTimeout)*time.Second, logger)

	coreSolver := solver.New(cfg, pageFetcher, questionExtractor, planGenerator, resourceFetcher,
		planExecutor, answerSubmitter, archiveOrNil(pgStore), dedupeOrNil(redisStore), metrics, logger)
	coreSolver.Start()

	// Initialize API Server
	server := api.NewServer(cfg, coreSolver, pgStore, redisStore, logBuffer, logger)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("port", cfg.ServerPort),
		zap.String("model", cfg.LLMModel),
		zap.Int("attemptTimeout", cfg.AttemptTimeout))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests before stopping the workers, so a late
	// async solve cannot race the pool shutdown.
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	coreSolver.Stop()

	logger.Info("server exiting")
}

// A nil *PostgresStore stuffed into the ArchiveStore interface would not
// compare equal to nil anymore; convert explicitly.
func archiveOrNil(ps *storage.PostgresStore) solver.ArchiveStore {
	if ps == nil {
		return nil
	}
	return ps
}

func dedupeOrNil(rs *storage.RedisStore) solver.DedupeStore {
	if rs == nil {
		return nil
	}
	return rs
}
