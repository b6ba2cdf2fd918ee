package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RunStatus represents the state of one validation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IssueType classifies what a validation check detected.
type IssueType string

const (
	IssueVoteCount          IssueType = "vote_count"
	IssueCandidateID        IssueType = "candidate_id"
	IssueAbstentionRate     IssueType = "abstention_rate"
	IssueDuplicate          IssueType = "duplicate"
	IssueMissingField       IssueType = "missing_field"
	IssueStatisticalOutlier IssueType = "statistical_outlier"
)

// IssueSeverity grades how actionable an issue is.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
	SeverityInfo    IssueSeverity = "info"
)

// IssueCategory groups issues by the kind of check that produced them.
type IssueCategory string

const (
	CategoryDataQuality IssueCategory = "data_quality"
	CategoryConsistency IssueCategory = "consistency"
	CategoryStatistical IssueCategory = "statistical"
	CategoryFormat      IssueCategory = "format"
)

// IssueStatus is the triage state of an issue.
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "open"
	IssueStatusResolved IssueStatus = "resolved"
	IssueStatusIgnored  IssueStatus = "ignored"
)

// SuggestedFix is an externally produced remediation proposal. It is
// advisory only; accepting one is an explicit, audited action elsewhere.
type SuggestedFix struct {
	Action     string  `json:"action"`
	NewValue   string  `json:"new_value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded fix or nil when absent.
//   - error: non-nil if marshaling fails.
func (f *SuggestedFix) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (f *SuggestedFix) Scan(value interface{}) error {
	if value == nil {
		*f = SuggestedFix{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan SuggestedFix")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, f)
}

// RunSummary aggregates issue counts for one validation run.
type RunSummary struct {
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded summary.
//   - error: non-nil if marshaling fails.
func (s RunSummary) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (s *RunSummary) Scan(value interface{}) error {
	if value == nil {
		*s = RunSummary{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan RunSummary")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, s)
}

// ValidationRun is one read-only analytical pass over a completed import
// job. A job may accumulate many runs; each run owns its issues.
type ValidationRun struct {
	ID    string `gorm:"type:text;primaryKey" json:"id"`
	JobID string `gorm:"type:text;not null;index" json:"job_id"`

	Status              RunStatus  `gorm:"type:text;default:running" json:"status"`
	TotalRecordsChecked int64      `gorm:"default:0" json:"total_records_checked"`
	IssuesFound         int64      `gorm:"default:0" json:"issues_found"`
	Summary             RunSummary `gorm:"type:text" json:"summary"`
	AIAnalysis          string     `gorm:"type:text" json:"ai_analysis,omitempty"`
	Error               string     `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Issues []ValidationIssue `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for ValidationRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ValidationRun) TableName() string {
	return "validation_runs"
}

// ValidationIssue is one detected anomaly, resolvable or ignorable via an
// explicit external action.
type ValidationIssue struct {
	ID    string `gorm:"type:text;primaryKey" json:"id"`
	RunID string `gorm:"type:text;not null;index" json:"run_id"`

	// Seq preserves emission order within a run; listings sort on it so
	// repeated runs over the same data read back identically.
	Seq int `gorm:"not null;default:0" json:"seq"`

	Type         IssueType     `gorm:"type:text;index" json:"type"`
	Severity     IssueSeverity `gorm:"type:text;index" json:"severity"`
	Category     IssueCategory `gorm:"type:text" json:"category"`
	RowReference string        `gorm:"type:text" json:"row_reference"`
	Field        string        `gorm:"type:text" json:"field,omitempty"`
	CurrentValue string        `gorm:"type:text" json:"current_value,omitempty"`
	Message      string        `gorm:"type:text" json:"message"`
	SuggestedFix *SuggestedFix `gorm:"type:text" json:"suggested_fix,omitempty"`

	Status     IssueStatus `gorm:"type:text;index;default:open" json:"status"`
	ResolvedBy string      `gorm:"type:text" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ValidationIssue.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ValidationIssue) TableName() string {
	return "validation_issues"
}
