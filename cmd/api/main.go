package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcoelho/apura/internal/ai"
	"github.com/rcoelho/apura/internal/api"
	"github.com/rcoelho/apura/internal/api/handler"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/events"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/service"
	"github.com/rcoelho/apura/internal/source"
	"github.com/rcoelho/apura/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "apura-api",
	})
	logger.SetDefaultLogger(appLogger)

	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	validRepo := repository.NewValidationRepository(db)

	// Optional raw-file retention in object storage
	var objectStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3Storage(&cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize object storage")
		}
		if err := s3.EnsureBucket(context.Background()); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		objectStorage = s3
	}

	// Optional AI suggestion backend
	var suggester ai.Suggester = ai.Disabled{}
	if cfg.AI.Enabled {
		anthropicSuggester, err := ai.NewAnthropicSuggester(&cfg.AI)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize AI suggester")
		}
		suggester = anthropicSuggester
	}

	// Initialize pipeline services
	bus := events.NewBus()
	acquirer := source.NewAcquirer(&cfg.Acquisition, objectStorage, appLogger)
	planner := service.NewPlanner(batchRepo, cfg.Import.BatchSize, appLogger)
	processor := service.NewBatchProcessor(batchRepo, recordRepo, cfg.Import.MaxErrorSamples, appLogger)
	orch := service.NewOrchestrator(jobRepo, batchRepo, recordRepo, validRepo, acquirer, planner, processor, bus, cfg.Import.Workers, appLogger)
	queue := service.NewQueueManager(orch, appLogger)
	validator := service.NewValidator(jobRepo, recordRepo, validRepo, suggester, cfg.Validation, appLogger)

	// Start the queue loop
	queueCtx, stopQueue := context.WithCancel(context.Background())
	go queue.Start(queueCtx)

	// Set up HTTP server
	router := api.SetupRouter(api.Deps{
		Imports:     handler.NewImportHandler(orch, queue, jobRepo, batchRepo, bus, cfg.Acquisition.WorkDir+"/uploads"),
		Validations: handler.NewValidationHandler(validator, validRepo),
		Health:      handler.NewHealthHandler(db),
		Logger:      appLogger,
		Server:      cfg.Server,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
	stopQueue()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}

	if err := logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}
