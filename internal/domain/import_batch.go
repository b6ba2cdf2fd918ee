package domain

import "time"

// BatchStatus represents the processing state of one import batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// ImportBatch is a contiguous half-open row range [RowStart, RowEnd) of a
// job's source file, the unit of retry and reprocess. For a given job the
// ranges are disjoint and their union covers [0, TotalFileRows).
type ImportBatch struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	JobID      string `gorm:"type:text;not null;index:idx_batches_job" json:"job_id"`
	BatchIndex int    `gorm:"not null" json:"batch_index"`
	RowStart   int64  `gorm:"not null" json:"row_start"`
	RowEnd     int64  `gorm:"not null" json:"row_end"`

	Status        BatchStatus `gorm:"type:text;index;default:pending" json:"status"`
	TotalRows     int64       `gorm:"default:0" json:"total_rows"`
	ProcessedRows int64       `gorm:"default:0" json:"processed_rows"`
	InsertedRows  int64       `gorm:"default:0" json:"inserted_rows"`
	SkippedRows   int64       `gorm:"default:0" json:"skipped_rows"`
	ErrorCount    int64       `gorm:"default:0" json:"error_count"`
	ErrorSummary  string      `gorm:"type:text" json:"error_summary,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportBatch.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ImportBatch) TableName() string {
	return "import_batches"
}

// BatchAggregate summarizes the batches of one job.
type BatchAggregate struct {
	Total         int   `json:"total"`
	Completed     int   `json:"completed"`
	Failed        int   `json:"failed"`
	Pending       int   `json:"pending"`
	Processing    int   `json:"processing"`
	TotalRows     int64 `json:"total_rows"`
	ProcessedRows int64 `json:"processed_rows"`
	ErrorCount    int64 `json:"error_count"`
}
