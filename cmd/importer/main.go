package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/events"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/service"
	"github.com/rcoelho/apura/internal/source"
)

// One-shot importer: submits a single file or URL and drains the queue,
// for loading result files from the command line without the API server.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "apura-importer",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	filePath := flag.String("file", "", "Local result file or archive to import")
	url := flag.String("url", "", "Result file URL to download and import")
	family := flag.String("family", string(domain.FamilyCandidateVotes), "Record family: candidate_votes, party_votes or election_stats")
	year := flag.Int("year", 0, "Only import rows for this election year")
	state := flag.String("state", "", "Only import rows for this state code")
	position := flag.Int("position", 0, "Only import rows for this position code")
	validate := flag.Bool("validate", false, "Run validation after the import completes")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if (*filePath == "") == (*url == "") {
		appLogger.Fatal("Exactly one of -file or -url is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	validRepo := repository.NewValidationRepository(db)

	bus := events.NewBus()
	acquirer := source.NewAcquirer(&cfg.Acquisition, nil, appLogger)
	planner := service.NewPlanner(batchRepo, cfg.Import.BatchSize, appLogger)
	processor := service.NewBatchProcessor(batchRepo, recordRepo, cfg.Import.MaxErrorSamples, appLogger)
	orch := service.NewOrchestrator(jobRepo, batchRepo, recordRepo, validRepo, acquirer, planner, processor, bus, cfg.Import.Workers, appLogger)
	queue := service.NewQueueManager(orch, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		appLogger.Info("Interrupted, cancelling")
		cancel()
	}()

	req := service.SubmitRequest{
		Family: domain.RecordFamily(*family),
		Filters: domain.ImportFilters{
			Year:         *year,
			State:        *state,
			PositionCode: *position,
		},
	}
	if *filePath != "" {
		req.SourceKind = domain.SourceKindUpload
		req.SourceName = *filePath
		req.LocalPath = *filePath
	} else {
		req.SourceKind = domain.SourceKindURL
		req.SourceName = *url
		req.SourceURL = *url
	}

	job, err := orch.Submit(ctx, req)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to submit job")
	}
	if _, err := queue.Enqueue(job.ID); err != nil {
		appLogger.WithError(err).Fatal("Failed to enqueue job")
	}
	queue.Drain(ctx)

	final, err := jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to reload job")
	}
	appLogger.WithFields(logger.Fields{
		logger.FieldJobID: final.ID,
		"status":          string(final.Status),
		"processed":       final.ProcessedRows,
		"skipped":         final.SkippedRows,
		"errors":          final.ErrorCount,
	}).Info("Import finished")

	if *validate && final.Status == domain.JobStatusCompleted {
		validator := service.NewValidator(jobRepo, recordRepo, validRepo, nil, cfg.Validation, appLogger)
		run, err := validator.Run(ctx, final.ID)
		if err != nil {
			appLogger.WithError(err).Fatal("Validation failed")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldRunID: run.ID,
			"checked":         run.TotalRecordsChecked,
			"issues":          run.IssuesFound,
		}).Info("Validation finished")
	}

	if final.Status != domain.JobStatusCompleted {
		os.Exit(1)
	}
}
