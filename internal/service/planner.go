package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
)

// Planner splits a counted data file into fixed-size row ranges and
// persists them as the job's batch plan.
type Planner struct {
	batchRepo *repository.BatchRepository
	batchSize int
	logger    *logger.Logger
}

// NewPlanner creates a new Planner.
func NewPlanner(batchRepo *repository.BatchRepository, batchSize int, log *logger.Logger) *Planner {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &Planner{
		batchRepo: batchRepo,
		batchSize: batchSize,
		logger:    log,
	}
}

// PlanRanges computes the half-open row ranges for totalRows rows split
// into chunks of batchSize. The last range may be shorter. The ranges
// cover every row exactly once.
func PlanRanges(totalRows int64, batchSize int) [][2]int64 {
	if totalRows <= 0 || batchSize <= 0 {
		return nil
	}
	size := int64(batchSize)
	ranges := make([][2]int64, 0, (totalRows+size-1)/size)
	for start := int64(0); start < totalRows; start += size {
		end := start + size
		if end > totalRows {
			end = totalRows
		}
		ranges = append(ranges, [2]int64{start, end})
	}
	return ranges
}

// Plan creates the batch plan for a job. When a plan already exists the
// call is a no-op, so a resumed job keeps its original ranges.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job with TotalFileRows already counted.
// Returns:
//   - int: number of batches in the plan (existing or created).
//   - error: non-nil if persistence fails.
func (p *Planner) Plan(ctx context.Context, job *domain.ImportJob) (int, error) {
	existing, err := p.batchRepo.CountByJob(ctx, job.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to check batch plan: %w", err)
	}
	if existing > 0 {
		p.log(ctx).WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			"batches":         existing,
		}).Info("Batch plan already exists, keeping it")
		return int(existing), nil
	}

	ranges := PlanRanges(job.TotalFileRows, p.batchSize)
	batches := make([]domain.ImportBatch, 0, len(ranges))
	for i, r := range ranges {
		batches = append(batches, domain.ImportBatch{
			ID:         uuid.New().String(),
			JobID:      job.ID,
			BatchIndex: i,
			RowStart:   r[0],
			RowEnd:     r[1],
			TotalRows:  r[1] - r[0],
			Status:     domain.BatchStatusPending,
		})
	}

	if err := p.batchRepo.CreateAll(ctx, batches); err != nil {
		return 0, fmt.Errorf("failed to persist batch plan: %w", err)
	}

	p.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"batches":         len(batches),
		"batch_size":      p.batchSize,
		"total_rows":      job.TotalFileRows,
	}).Info("Batch plan created")

	return len(batches), nil
}

func (p *Planner) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}
