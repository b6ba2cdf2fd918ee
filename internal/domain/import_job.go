package domain

import "time"

// JobStatus represents the lifecycle state of an import job.
// Transitions are owned exclusively by the orchestrator.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusExtracting  JobStatus = "extracting"
	JobStatusCounting    JobStatus = "counting"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusInserting   JobStatus = "inserting"
	JobStatusValidating  JobStatus = "validating"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status accepts no further
// orchestrator transitions except restart.
// Parameters: none.
// Returns:
//   - bool: true for completed, failed, and cancelled.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job stages refine the coarse status with the sub-step currently running.
const (
	StageQueued            = "queued"
	StageDownloading       = "downloading"
	StageExtracting        = "extracting"
	StageAwaitingSelection = "awaiting_selection"
	StageCounting          = "counting"
	StagePlanning          = "planning"
	StageInserting         = "inserting"
	StageValidating        = "validating"
	StageDone              = "done"
)

// SourceKind identifies how a job's input bytes are obtained.
type SourceKind string

const (
	SourceKindUpload SourceKind = "upload"
	SourceKindURL    SourceKind = "url"
)

// RecordFamily identifies which domain table a source file feeds.
type RecordFamily string

const (
	FamilyCandidateVotes RecordFamily = "candidate_votes"
	FamilyPartyVotes     RecordFamily = "party_votes"
	FamilyElectionStats  RecordFamily = "election_stats"
)

// ImportFilters restricts which rows of a source file are loaded.
// Zero values mean "no filter".
type ImportFilters struct {
	Year         int    `json:"year,omitempty"`
	State        string `json:"state,omitempty"`
	PositionCode int    `json:"position_code,omitempty"`
}

// ImportJob represents one end-to-end ingestion request and its progress.
type ImportJob struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	SourceKind   SourceKind   `gorm:"type:text;not null" json:"source_kind"`
	SourceName   string       `gorm:"type:text;not null" json:"source_name"`
	SourceURL    string       `gorm:"type:text" json:"source_url,omitempty"`
	Family       RecordFamily `gorm:"type:text;not null;index" json:"family"`
	DeclaredSize int64        `gorm:"default:0" json:"declared_size"`

	Status JobStatus `gorm:"type:text;index;default:pending" json:"status"`
	Stage  string    `gorm:"type:text" json:"stage"`
	Error  string    `json:"error,omitempty"`

	// ProcessedRows counts every row consumed from the file's batch
	// ranges. SkippedRows covers filter misses plus rows whose key was
	// already in the table, so on a restarted run processed plus skipped
	// can exceed TotalFileRows. ErrorCount is decode failures only.
	DownloadedBytes int64 `gorm:"default:0" json:"downloaded_bytes"`
	TotalRows       int64 `gorm:"default:0" json:"total_rows"`
	TotalFileRows   int64 `gorm:"default:0" json:"total_file_rows"`
	ProcessedRows   int64 `gorm:"default:0" json:"processed_rows"`
	SkippedRows     int64 `gorm:"default:0" json:"skipped_rows"`
	ErrorCount      int64 `gorm:"default:0" json:"error_count"`

	FilterYear     int    `gorm:"default:0" json:"filter_year,omitempty"`
	FilterState    string `gorm:"type:text" json:"filter_state,omitempty"`
	FilterPosition int    `gorm:"default:0" json:"filter_position,omitempty"`

	// Local bookkeeping of acquired files; not part of the API payload.
	LocalRawPath  string `gorm:"type:text" json:"-"`
	LocalDataPath string `gorm:"type:text" json:"-"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Batches []ImportBatch `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for ImportJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// Filters assembles the job's row filters.
// Parameters: none.
// Returns:
//   - ImportFilters: filters recorded at submission time.
func (j *ImportJob) Filters() ImportFilters {
	return ImportFilters{
		Year:         j.FilterYear,
		State:        j.FilterState,
		PositionCode: j.FilterPosition,
	}
}
