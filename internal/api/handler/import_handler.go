package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rcoelho/apura/internal/api/middleware"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/events"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/service"
)

// ImportHandler handles import job endpoints.
type ImportHandler struct {
	orch      *service.Orchestrator
	queue     *service.QueueManager
	jobRepo   *repository.JobRepository
	batchRepo *repository.BatchRepository
	bus       *events.Bus
	uploadDir string
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - orch: job orchestrator.
//   - queue: queue manager jobs are enqueued on.
//   - jobRepo: job repository for reads.
//   - batchRepo: batch repository for reads.
//   - bus: progress event bus for the SSE stream.
//   - uploadDir: directory uploaded files are staged in.
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(
	orch *service.Orchestrator,
	queue *service.QueueManager,
	jobRepo *repository.JobRepository,
	batchRepo *repository.BatchRepository,
	bus *events.Bus,
	uploadDir string,
) *ImportHandler {
	return &ImportHandler{
		orch:      orch,
		queue:     queue,
		jobRepo:   jobRepo,
		batchRepo: batchRepo,
		bus:       bus,
		uploadDir: uploadDir,
	}
}

// submitBody is the JSON form of a URL-sourced submission.
type submitBody struct {
	URL     string               `json:"url" binding:"required"`
	Family  string               `json:"family" binding:"required"`
	Filters domain.ImportFilters `json:"filters"`
}

// Create handles POST /api/v1/imports. A multipart request uploads the
// source file directly; a JSON request points at a download URL.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Create(c *gin.Context) {
	log := middleware.GetLogger(c)

	var req service.SubmitRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
			return
		}
		staged, size, err := h.stageUpload(fileHeader)
		if err != nil {
			log.WithError(err).Error("Failed to stage upload")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}
		req = service.SubmitRequest{
			SourceKind:   domain.SourceKindUpload,
			SourceName:   fileHeader.Filename,
			LocalPath:    staged,
			DeclaredSize: size,
			Family:       domain.RecordFamily(c.PostForm("family")),
			Filters:      formFilters(c),
		}
	} else {
		var body submitBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req = service.SubmitRequest{
			SourceKind: domain.SourceKindURL,
			SourceName: filepath.Base(body.URL),
			SourceURL:  body.URL,
			Family:     domain.RecordFamily(body.Family),
			Filters:    body.Filters,
		}
	}

	job, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	position, err := h.queue.Enqueue(job.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"job":            job,
		"queue_position": position,
	})
}

// stageUpload copies the request file into the upload directory.
func (h *ImportHandler) stageUpload(fileHeader *multipart.FileHeader) (string, int64, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", 0, err
	}
	dst := filepath.Join(h.uploadDir, uuid.New().String()+"_"+filepath.Base(fileHeader.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	size, err := io.Copy(out, src)
	if err != nil {
		return "", 0, err
	}
	return dst, size, nil
}

func formFilters(c *gin.Context) domain.ImportFilters {
	var f domain.ImportFilters
	if v := c.PostForm("year"); v != "" {
		f.Year, _ = strconv.Atoi(v)
	}
	f.State = c.PostForm("state")
	if v := c.PostForm("position_code"); v != "" {
		f.PositionCode, _ = strconv.Atoi(v)
	}
	return f
}

// List handles GET /api/v1/imports.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	jobs, err := h.jobRepo.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get handles GET /api/v1/imports/:id, returning the job with its batch
// roll-up.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.jobRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	agg, err := h.batchRepo.Aggregate(ctx, job.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":     job,
		"batches": agg,
	})
}

// ListBatches handles GET /api/v1/imports/:id/batches.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) ListBatches(c *gin.Context) {
	batches, err := h.batchRepo.ListByJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// Cancel handles POST /api/v1/imports/:id/cancel.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.orch.Cancel(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	h.queue.Remove(jobID)
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Delete handles DELETE /api/v1/imports/:id. Only terminal jobs can be
// deleted; their imported rows, batch plan and validation runs go with
// them.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Delete(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.orch.Delete(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Restart handles POST /api/v1/imports/:id/restart.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Restart(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.orch.Restart(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	position, err := h.queue.Enqueue(jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarted", "queue_position": position})
}

// SelectFile handles POST /api/v1/imports/:id/select-file for jobs
// waiting on an archive disambiguation.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) SelectFile(c *gin.Context) {
	var body struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := c.Param("id")
	if err := h.orch.Select(c.Request.Context(), jobID, body.Path); err != nil {
		respondError(c, err)
		return
	}
	position, err := h.queue.Enqueue(jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "selected", "queue_position": position})
}

// ReprocessFailed handles POST /api/v1/imports/:id/reprocess-failed.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) ReprocessFailed(c *gin.Context) {
	jobID := c.Param("id")
	n, err := h.orch.ReprocessFailed(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if n > 0 {
		if _, err := h.queue.Enqueue(jobID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"reset_batches": n})
}

// ReprocessBatch handles POST /api/v1/batches/:id/reprocess.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) ReprocessBatch(c *gin.Context) {
	jobID, err := h.orch.ReprocessBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.queue.Enqueue(jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "job_id": jobID})
}

// Queue handles GET /api/v1/queue.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Status())
}

// Events handles GET /api/v1/imports/:id/events as a server-sent event
// stream of progress updates. The stream closes when the client goes
// away or the job reaches a terminal status.
// Parameters:
//   - c: Gin request context.
// Returns: none (streams SSE frames).
func (h *ImportHandler) Events(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.jobRepo.GetByID(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	ch, unsubscribe := h.bus.Subscribe(jobID, 16)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("progress", ev)
			c.Writer.Flush()
			if ev.Status.IsTerminal() {
				return
			}
		}
	}
}
