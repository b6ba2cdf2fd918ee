package repository

import (
	"context"
	"time"

	"github.com/rcoelho/apura/internal/domain"
	"gorm.io/gorm"
)

// BatchRepository handles import batch persistence.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BatchRepository: repository instance bound to db.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateAll inserts a job's batch plan in one statement.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batches: planned batches to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *BatchRepository) CreateAll(ctx context.Context, batches []domain.ImportBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&batches).Error
}

// GetByID retrieves a batch by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - *domain.ImportBatch: batch record if found.
//   - error: non-nil if lookup fails.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.ImportBatch, error) {
	var batch domain.ImportBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListByJob retrieves all batches of a job in index order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.ImportBatch: batches ordered by batch_index.
//   - error: non-nil if the query fails.
func (r *BatchRepository) ListByJob(ctx context.Context, jobID string) ([]domain.ImportBatch, error) {
	var batches []domain.ImportBatch
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("batch_index ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByJobAndStatus retrieves a job's batches in a given status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
//   - status: batch status to filter by.
// Returns:
//   - []domain.ImportBatch: matching batches ordered by batch_index.
//   - error: non-nil if the query fails.
func (r *BatchRepository) ListByJobAndStatus(ctx context.Context, jobID string, status domain.BatchStatus) ([]domain.ImportBatch, error) {
	var batches []domain.ImportBatch
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, status).
		Order("batch_index ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// CountByJob counts a job's batches.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - int64: number of batches.
//   - error: non-nil if the query fails.
func (r *BatchRepository) CountByJob(ctx context.Context, jobID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ImportBatch{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Update saves all fields of a batch record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) Update(ctx context.Context, batch *domain.ImportBatch) error {
	batch.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(batch).Error
}

// ClaimPending transitions a batch from pending to processing. Only one
// caller can win the claim; others see zero rows affected.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID to claim.
// Returns:
//   - bool: true if this caller claimed the batch.
//   - error: non-nil if the update fails.
func (r *BatchRepository) ClaimPending(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.BatchStatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Reset returns a batch to pending with zeroed counters so it can be
// reprocessed in place. Counters already rolled into the owning job are
// subtracted back in the same transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID to reset.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) Reset(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch domain.ImportBatch
		if err := tx.First(&batch, "id = ?", id).Error; err != nil {
			return err
		}
		rolledUp := batch.Status == domain.BatchStatusCompleted || batch.Status == domain.BatchStatusFailed
		if err := tx.Model(&domain.ImportBatch{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":         domain.BatchStatusPending,
				"processed_rows": 0,
				"inserted_rows":  0,
				"skipped_rows":   0,
				"error_count":    0,
				"error_summary":  "",
				"started_at":     nil,
				"completed_at":   nil,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}
		if !rolledUp {
			return nil
		}
		return tx.Model(&domain.ImportJob{}).
			Where("id = ?", batch.JobID).
			Updates(map[string]interface{}{
				"processed_rows": gorm.Expr("processed_rows - ?", batch.ProcessedRows),
				"skipped_rows":   gorm.Expr("skipped_rows - ?", batch.SkippedRows),
				"error_count":    gorm.Expr("error_count - ?", batch.ErrorCount),
				"updated_at":     now,
			}).Error
	})
}

// DeleteByJob removes a job's entire batch plan, used on restart.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - error: non-nil if the delete fails.
func (r *BatchRepository) DeleteByJob(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Delete(&domain.ImportBatch{}, "job_id = ?", jobID).Error
}

// CompleteWithRollup marks a batch completed (or failed) and rolls its
// counters into the owning job inside one transaction, so a retry after a
// crash cannot double-count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch with final counters set by the processor.
//   - status: terminal batch status to record.
// Returns:
//   - error: non-nil if the transaction fails.
func (r *BatchRepository) CompleteWithRollup(ctx context.Context, batch *domain.ImportBatch, status domain.BatchStatus) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ImportBatch{}).
			Where("id = ? AND status = ?", batch.ID, domain.BatchStatusProcessing).
			Updates(map[string]interface{}{
				"status":         status,
				"processed_rows": batch.ProcessedRows,
				"inserted_rows":  batch.InsertedRows,
				"skipped_rows":   batch.SkippedRows,
				"error_count":    batch.ErrorCount,
				"error_summary":  batch.ErrorSummary,
				"completed_at":   now,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another writer already finished this batch; do not roll up twice.
			return nil
		}
		return tx.Model(&domain.ImportJob{}).
			Where("id = ?", batch.JobID).
			Updates(map[string]interface{}{
				"processed_rows": gorm.Expr("processed_rows + ?", batch.ProcessedRows),
				"skipped_rows":   gorm.Expr("skipped_rows + ?", batch.SkippedRows),
				"error_count":    gorm.Expr("error_count + ?", batch.ErrorCount),
				"updated_at":     now,
			}).Error
	})
}

// Aggregate summarizes the batches of one job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - *domain.BatchAggregate: per-status counts and counter totals.
//   - error: non-nil if the query fails.
func (r *BatchRepository) Aggregate(ctx context.Context, jobID string) (*domain.BatchAggregate, error) {
	batches, err := r.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	agg := &domain.BatchAggregate{Total: len(batches)}
	for _, b := range batches {
		switch b.Status {
		case domain.BatchStatusCompleted:
			agg.Completed++
		case domain.BatchStatusFailed:
			agg.Failed++
		case domain.BatchStatusProcessing:
			agg.Processing++
		default:
			agg.Pending++
		}
		agg.TotalRows += b.TotalRows
		agg.ProcessedRows += b.ProcessedRows
		agg.ErrorCount += b.ErrorCount
	}
	return agg, nil
}
