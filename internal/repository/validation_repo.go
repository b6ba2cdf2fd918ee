package repository

import (
	"context"
	"time"

	"github.com/rcoelho/apura/internal/domain"
	"gorm.io/gorm"
)

// ValidationRepository handles validation run and issue persistence.
type ValidationRepository struct {
	db *gorm.DB
}

// NewValidationRepository creates a new ValidationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ValidationRepository: repository instance bound to db.
func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// CreateRun inserts a new validation run record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: run record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ValidationRepository) CreateRun(ctx context.Context, run *domain.ValidationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetRun retrieves a validation run by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
// Returns:
//   - *domain.ValidationRun: run record if found.
//   - error: non-nil if lookup fails.
func (r *ValidationRepository) GetRun(ctx context.Context, id string) (*domain.ValidationRun, error) {
	var run domain.ValidationRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRunsByJob retrieves the validation runs of a job, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.ValidationRun: matching runs.
//   - error: non-nil if the query fails.
func (r *ValidationRepository) ListRunsByJob(ctx context.Context, jobID string) ([]domain.ValidationRun, error) {
	var runs []domain.ValidationRun
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// UpdateRun saves all fields of a run record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: run record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *ValidationRepository) UpdateRun(ctx context.Context, run *domain.ValidationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// CreateIssues inserts a run's issues in one statement.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - issues: issues to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ValidationRepository) CreateIssues(ctx context.Context, issues []domain.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&issues).Error
}

// IssueFilters narrows issue listings.
type IssueFilters struct {
	Type     domain.IssueType
	Severity domain.IssueSeverity
	Status   domain.IssueStatus
	Limit    int
	Offset   int
}

// ListIssues retrieves a run's issues with optional filters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: owning run ID.
//   - filters: optional type/severity/status filters and paging.
// Returns:
//   - []domain.ValidationIssue: matching issues.
//   - error: non-nil if the query fails.
func (r *ValidationRepository) ListIssues(ctx context.Context, runID string, filters IssueFilters) ([]domain.ValidationIssue, error) {
	query := r.db.WithContext(ctx).Where("run_id = ?", runID)
	if filters.Type != "" {
		query = query.Where("type = ?", filters.Type)
	}
	if filters.Severity != "" {
		query = query.Where("severity = ?", filters.Severity)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	var issues []domain.ValidationIssue
	if err := query.Order("seq ASC").Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}

// GetIssue retrieves an issue by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: issue ID.
// Returns:
//   - *domain.ValidationIssue: issue record if found.
//   - error: non-nil if lookup fails.
func (r *ValidationRepository) GetIssue(ctx context.Context, id string) (*domain.ValidationIssue, error) {
	var issue domain.ValidationIssue
	if err := r.db.WithContext(ctx).First(&issue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

// DeleteByJob removes every validation run of a job along with the runs'
// issues.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - error: non-nil if a delete fails.
func (r *ValidationRepository) DeleteByJob(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		runIDs := tx.Model(&domain.ValidationRun{}).Select("id").Where("job_id = ?", jobID)
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&domain.ValidationIssue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.ValidationRun{}, "job_id = ?", jobID).Error
	})
}

// SetIssueStatus records the triage decision on an issue along with who
// made it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: issue ID.
//   - status: resolved or ignored.
//   - resolvedBy: identity of the actor.
// Returns:
//   - error: non-nil if the update fails.
func (r *ValidationRepository) SetIssueStatus(ctx context.Context, id string, status domain.IssueStatus, resolvedBy string) error {
	return r.db.WithContext(ctx).Model(&domain.ValidationIssue{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": resolvedBy,
			"resolved_at": time.Now(),
		}).Error
}
