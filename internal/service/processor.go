package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rcoelho/apura/internal/codec"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
)

// insertChunkSize bounds how many decoded rows are held in memory before
// they are flushed to the database.
const insertChunkSize = 500

// BatchProcessor executes one batch of an import job: it reads the
// batch's row range from the data file, decodes each row, and inserts
// the decoded records with duplicate keys ignored. Row-level failures
// are counted and sampled, never fatal; only infrastructure failures
// (unreadable file, insert error) fail the batch.
type BatchProcessor struct {
	batchRepo       *repository.BatchRepository
	recordRepo      *repository.RecordRepository
	maxErrorSamples int
	logger          *logger.Logger
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(batchRepo *repository.BatchRepository, recordRepo *repository.RecordRepository, maxErrorSamples int, log *logger.Logger) *BatchProcessor {
	if maxErrorSamples <= 0 {
		maxErrorSamples = 20
	}
	return &BatchProcessor{
		batchRepo:       batchRepo,
		recordRepo:      recordRepo,
		maxErrorSamples: maxErrorSamples,
		logger:          log,
	}
}

func (p *BatchProcessor) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}

// Process claims and runs one batch. Running the same batch again after
// it completed is a no-op at the claim, and re-inserting rows that are
// already present affects nothing, so repeated runs keep counters and
// table contents identical to a single run.
// Parameters:
//   - ctx: context for cancellation; checked between rows.
//   - job: owning job, used for family, filters and data file path.
//   - batch: batch to run, expected in pending status.
// Returns:
//   - error: non-nil on infrastructure failure or cancellation.
func (p *BatchProcessor) Process(ctx context.Context, job *domain.ImportJob, batch *domain.ImportBatch) error {
	claimed, err := p.batchRepo.ClaimPending(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to claim batch: %w", err)
	}
	if !claimed {
		p.log(ctx).WithField(logger.FieldBatchID, batch.ID).Warn("Batch not pending, skipping")
		return nil
	}

	log := p.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldBatchID: batch.ID,
		"batch_index":       batch.BatchIndex,
		"row_start":         batch.RowStart,
		"row_end":           batch.RowEnd,
	})
	log.Info("Processing batch")

	result, err := p.run(ctx, job, batch)
	if result != nil {
		batch.ProcessedRows = result.processed
		batch.InsertedRows = result.inserted
		batch.SkippedRows = result.skipped
		batch.ErrorCount = result.errorCount
		batch.ErrorSummary = result.summary()
	}

	status := domain.BatchStatusCompleted
	if err != nil {
		status = domain.BatchStatusFailed
		if batch.ErrorSummary == "" {
			batch.ErrorSummary = err.Error()
		}
	}

	if rollupErr := p.batchRepo.CompleteWithRollup(ctx, batch, status); rollupErr != nil {
		// Background contexts survive cancellation so the final state is
		// still recorded.
		if writeErr := p.batchRepo.CompleteWithRollup(context.Background(), batch, status); writeErr != nil {
			log.WithError(writeErr).Error("Failed to record batch outcome")
		}
	}

	if err != nil {
		log.WithError(err).Error("Batch failed")
		return err
	}

	log.WithFields(logger.Fields{
		"processed": batch.ProcessedRows,
		"inserted":  batch.InsertedRows,
		"skipped":   batch.SkippedRows,
		"errors":    batch.ErrorCount,
	}).Info("Batch completed")
	return nil
}

// batchResult accumulates per-row outcomes while a batch runs.
type batchResult struct {
	processed  int64
	inserted   int64
	skipped    int64
	errorCount int64

	maxSamples int
	samples    []string
}

func (r *batchResult) addError(rowIndex int64, err error) {
	r.errorCount++
	if len(r.samples) < r.maxSamples {
		r.samples = append(r.samples, fmt.Sprintf("row %d: %s", rowIndex, err.Error()))
	}
}

func (r *batchResult) summary() string {
	if r.errorCount == 0 {
		return ""
	}
	s := strings.Join(r.samples, "; ")
	if r.errorCount > int64(len(r.samples)) {
		s = fmt.Sprintf("%s; and %d more", s, r.errorCount-int64(len(r.samples)))
	}
	return s
}

func (p *BatchProcessor) run(ctx context.Context, job *domain.ImportJob, batch *domain.ImportBatch) (*batchResult, error) {
	result := &batchResult{maxSamples: p.maxErrorSamples}

	decoder, err := codec.NewDecoder(job.Family, job.Filters(), job.ID)
	if err != nil {
		return result, err
	}

	if job.LocalDataPath == "" {
		return result, errors.New("job has no data file")
	}
	f, err := os.Open(job.LocalDataPath)
	if err != nil {
		return result, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	scanner := codec.NewRowScanner(f)
	pending := make([]interface{}, 0, insertChunkSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		affected, err := p.recordRepo.InsertRows(ctx, job.Family, pending)
		if err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}
		result.inserted += affected
		// Conflicts with rows already in the table are silent skips.
		result.skipped += int64(len(pending)) - affected
		pending = pending[:0]
		return nil
	}

	var rowIndex int64 = -1
	for scanner.Scan() {
		rowIndex++
		if rowIndex < batch.RowStart {
			continue
		}
		if rowIndex >= batch.RowEnd {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.processed++
		record, err := decoder.Decode(scanner.Text())
		if err != nil {
			if errors.Is(err, codec.ErrFiltered) {
				result.skipped++
				continue
			}
			result.addError(rowIndex, err)
			continue
		}

		pending = append(pending, record)
		if len(pending) >= insertChunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read data file: %w", err)
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}
