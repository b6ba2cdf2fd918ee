package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rcoelho/apura/internal/api/middleware"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/service"
)

// ValidationHandler handles validation run and issue endpoints.
type ValidationHandler struct {
	validator *service.Validator
	validRepo *repository.ValidationRepository
}

// NewValidationHandler creates a new validation handler.
// Parameters:
//   - validator: validation engine.
//   - validRepo: validation repository for reads and issue triage.
// Returns:
//   - *ValidationHandler: initialized handler.
func NewValidationHandler(validator *service.Validator, validRepo *repository.ValidationRepository) *ValidationHandler {
	return &ValidationHandler{
		validator: validator,
		validRepo: validRepo,
	}
}

// Run handles POST /api/v1/imports/:id/validate. The run executes
// synchronously; result files are bounded, not streamed.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) Run(c *gin.Context) {
	log := middleware.GetLogger(c)

	run, err := h.validator.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		if run != nil {
			// The run itself is persisted with its failure reason.
			log.WithError(err).Error("Validation run failed")
			c.JSON(http.StatusInternalServerError, gin.H{"run": run, "error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": run})
}

// ListRuns handles GET /api/v1/imports/:id/validations.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) ListRuns(c *gin.Context) {
	runs, err := h.validRepo.ListRunsByJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun handles GET /api/v1/validations/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) GetRun(c *gin.Context) {
	run, err := h.validRepo.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// ListIssues handles GET /api/v1/validations/:id/issues with optional
// type, severity and status filters.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) ListIssues(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	filters := repository.IssueFilters{
		Type:     domain.IssueType(c.Query("type")),
		Severity: domain.IssueSeverity(c.Query("severity")),
		Status:   domain.IssueStatus(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	}
	issues, err := h.validRepo.ListIssues(c.Request.Context(), c.Param("id"), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"issues": issues,
		"count":  len(issues),
	})
}

// Resolve handles POST /api/v1/issues/:id/resolve.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) Resolve(c *gin.Context) {
	h.setStatus(c, domain.IssueStatusResolved)
}

// Ignore handles POST /api/v1/issues/:id/ignore.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ValidationHandler) Ignore(c *gin.Context) {
	h.setStatus(c, domain.IssueStatusIgnored)
}

func (h *ValidationHandler) setStatus(c *gin.Context, status domain.IssueStatus) {
	var body struct {
		ResolvedBy string `json:"resolved_by"`
	}
	// Body is optional; an empty resolver is recorded as such.
	_ = c.ShouldBindJSON(&body)

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.validRepo.GetIssue(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	if err := h.validRepo.SetIssueStatus(ctx, id, status, body.ResolvedBy); err != nil {
		respondError(c, err)
		return
	}

	issue, err := h.validRepo.GetIssue(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issue": issue})
}
