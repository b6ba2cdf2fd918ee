package repository

import (
	"context"
	"time"

	"github.com/rcoelho/apura/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles import job persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new import job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.ImportJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs ordered by creation time, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.ImportJob: matching job records.
//   - error: non-nil if the query fails.
func (r *JobRepository) List(ctx context.Context, limit, offset int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Update saves all fields of a job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Update(ctx context.Context, job *domain.ImportJob) error {
	job.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(job).Error
}

// UpdateStatus sets the job's status and stage in one statement.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: new lifecycle status.
//   - stage: new fine-grained stage.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, stage string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"stage":      stage,
			"updated_at": time.Now(),
		}).Error
}

// UpdateProgress updates the byte/row progress counters of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - fields: column/value map of counters to set.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ResetCounters zeroes a job's progress counters, used on restart.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) ResetCounters(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"downloaded_bytes": 0,
			"total_rows":       0,
			"total_file_rows":  0,
			"processed_rows":   0,
			"skipped_rows":     0,
			"error_count":      0,
			"error":            "",
			"started_at":       nil,
			"completed_at":     nil,
			"updated_at":       time.Now(),
		}).Error
}

// Delete removes a job and, through cascade, its batches.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID to delete.
// Returns:
//   - error: non-nil if the delete fails.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.ImportJob{}, "id = ?", id).Error
}
