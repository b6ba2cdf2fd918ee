package ai

import (
	"context"

	"github.com/rcoelho/apura/internal/domain"
)

// Suggester proposes remediations for validation issues. Implementations
// are best-effort collaborators: the validation engine treats any error
// as "no suggestion" and never fails a run because of one.
type Suggester interface {
	// Suggest returns a remediation proposal for one issue, or nil when
	// it has none.
	Suggest(ctx context.Context, issue *domain.ValidationIssue) (*domain.SuggestedFix, error)

	// Summarize produces a short narrative analysis of a run's issues.
	Summarize(ctx context.Context, job *domain.ImportJob, issues []domain.ValidationIssue) (string, error)
}

// Disabled is the no-op Suggester used when AI enrichment is turned off.
type Disabled struct{}

// Suggest always returns no suggestion.
func (Disabled) Suggest(ctx context.Context, issue *domain.ValidationIssue) (*domain.SuggestedFix, error) {
	return nil, nil
}

// Summarize always returns an empty analysis.
func (Disabled) Summarize(ctx context.Context, job *domain.ImportJob, issues []domain.ValidationIssue) (string, error) {
	return "", nil
}
