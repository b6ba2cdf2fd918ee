package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rcoelho/apura/internal/codec"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/events"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/source"
)

var (
	// ErrInvalidFilters rejects a submission whose filters are malformed.
	ErrInvalidFilters = errors.New("invalid import filters")

	// ErrInvalidTransition rejects an operation not allowed in the job's
	// current status.
	ErrInvalidTransition = errors.New("operation not allowed in current job state")
)

var stateCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// SubmitRequest carries everything needed to create an import job.
type SubmitRequest struct {
	SourceKind   domain.SourceKind
	SourceName   string
	SourceURL    string
	LocalPath    string
	DeclaredSize int64
	Family       domain.RecordFamily
	Filters      domain.ImportFilters
}

// Orchestrator owns the import job state machine. It drives each job
// through acquisition, counting, planning and batch processing, and is
// the only writer of job status transitions.
type Orchestrator struct {
	jobRepo        *repository.JobRepository
	batchRepo      *repository.BatchRepository
	recordRepo     *repository.RecordRepository
	validationRepo *repository.ValidationRepository
	acquirer       *source.Acquirer
	planner        *Planner
	processor      *BatchProcessor
	bus            *events.Bus
	workers        int
	logger         *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	jobRepo *repository.JobRepository,
	batchRepo *repository.BatchRepository,
	recordRepo *repository.RecordRepository,
	validationRepo *repository.ValidationRepository,
	acquirer *source.Acquirer,
	planner *Planner,
	processor *BatchProcessor,
	bus *events.Bus,
	workers int,
	log *logger.Logger,
) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		jobRepo:        jobRepo,
		batchRepo:      batchRepo,
		recordRepo:     recordRepo,
		validationRepo: validationRepo,
		acquirer:       acquirer,
		planner:        planner,
		processor:      processor,
		bus:            bus,
		workers:        workers,
		logger:         log,
		cancels:        make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return o.logger
}

// Submit validates a request and creates a pending job. The job does not
// start until the queue manager picks it up.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: source descriptor, record family and optional filters.
// Returns:
//   - *domain.ImportJob: created job in pending status.
//   - error: ErrInvalidFilters or a wrapped persistence error.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.ImportJob, error) {
	switch req.Family {
	case domain.FamilyCandidateVotes, domain.FamilyPartyVotes, domain.FamilyElectionStats:
	default:
		return nil, fmt.Errorf("%w: unknown record family %q", ErrInvalidFilters, req.Family)
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}
	desc := source.Descriptor{
		Kind:      req.SourceKind,
		Name:      req.SourceName,
		URL:       req.SourceURL,
		LocalPath: req.LocalPath,
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFilters, err.Error())
	}

	job := &domain.ImportJob{
		ID:             uuid.New().String(),
		SourceKind:     req.SourceKind,
		SourceName:     req.SourceName,
		SourceURL:      req.SourceURL,
		Family:         req.Family,
		DeclaredSize:   req.DeclaredSize,
		Status:         domain.JobStatusPending,
		Stage:          domain.StageQueued,
		FilterYear:     req.Filters.Year,
		FilterState:    req.Filters.State,
		FilterPosition: req.Filters.PositionCode,
		LocalRawPath:   req.LocalPath,
	}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldSource: string(req.SourceKind),
		"family":           string(req.Family),
	}).Info("Job submitted")
	o.publish(job)
	return job, nil
}

func validateFilters(f domain.ImportFilters) error {
	if f.Year != 0 && (f.Year < 1900 || f.Year > 2100) {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidFilters, f.Year)
	}
	if f.State != "" && !stateCodeRe.MatchString(f.State) {
		return fmt.Errorf("%w: state %q is not a two-letter code", ErrInvalidFilters, f.State)
	}
	if f.PositionCode < 0 {
		return fmt.Errorf("%w: negative position code", ErrInvalidFilters)
	}
	return nil
}

// Run drives one job from its current point to a terminal status. It is
// re-entrant: a resumed job skips the stages whose outputs already exist
// (downloaded file, row count, batch plan, completed batches).
// Parameters:
//   - ctx: context; cancellation stops the job between rows.
//   - jobID: job to run.
// Returns:
//   - error: non-nil on a fatal pipeline failure.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status == domain.JobStatusCancelled || job.Status == domain.JobStatusFailed {
		o.log(ctx).WithField(logger.FieldJobID, jobID).Warn("Job is terminal, not running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
	}()

	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
		if err := o.jobRepo.UpdateProgress(ctx, job.ID, map[string]interface{}{"started_at": now}); err != nil {
			return fmt.Errorf("failed to mark job started: %w", err)
		}
	}

	err = o.pipeline(runCtx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return o.finalize(job, domain.JobStatusCancelled, "")
	default:
		o.log(ctx).WithField(logger.FieldJobID, job.ID).WithError(err).Error("Job failed")
		return o.finalize(job, domain.JobStatusFailed, err.Error())
	}
}

// pipeline runs the stages in order, skipping the ones already done.
func (o *Orchestrator) pipeline(ctx context.Context, job *domain.ImportJob) error {
	if job.LocalDataPath == "" {
		parked, err := o.acquire(ctx, job)
		if err != nil {
			return err
		}
		if parked {
			// Waiting for an archive file selection; the job resumes
			// when Select is called and it is re-enqueued.
			return nil
		}
	}

	if job.TotalFileRows == 0 {
		if err := o.count(ctx, job); err != nil {
			return err
		}
	}

	o.transition(ctx, job, domain.JobStatusProcessing, domain.StagePlanning)
	if _, err := o.planner.Plan(ctx, job); err != nil {
		return err
	}

	o.transition(ctx, job, domain.JobStatusInserting, domain.StageInserting)
	if err := o.processBatches(ctx, job); err != nil {
		return err
	}

	return o.finalize(job, domain.JobStatusCompleted, "")
}

// acquire downloads or stages the source file and resolves archives.
// It returns parked=true when archive disambiguation needs a caller
// decision.
func (o *Orchestrator) acquire(ctx context.Context, job *domain.ImportJob) (bool, error) {
	o.transition(ctx, job, domain.JobStatusDownloading, domain.StageDownloading)

	var lastPublished int64
	onProgress := func(written int64) {
		job.DownloadedBytes = written
		// Persist and publish at most once per callback; the acquirer
		// already throttles callbacks.
		if err := o.jobRepo.UpdateProgress(ctx, job.ID, map[string]interface{}{"downloaded_bytes": written}); err == nil {
			lastPublished = written
			o.publish(job)
		}
	}

	acquired, err := o.acquirer.Acquire(ctx, source.Descriptor{
		Kind:      job.SourceKind,
		Name:      job.SourceName,
		URL:       job.SourceURL,
		LocalPath: job.LocalRawPath,
	}, job.ID, onProgress)

	var selErr *source.SelectionRequiredError
	if errors.As(err, &selErr) {
		job.LocalRawPath = acquiredRawPath(acquired, job.LocalRawPath)
		o.transition(ctx, job, domain.JobStatusExtracting, domain.StageAwaitingSelection)
		if uerr := o.jobRepo.UpdateProgress(ctx, job.ID, map[string]interface{}{"local_raw_path": job.LocalRawPath}); uerr != nil {
			return false, uerr
		}
		o.log(ctx).WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			"candidates":      len(selErr.Files),
		}).Info("Archive needs a file selection")
		return true, nil
	}
	if err != nil {
		return false, err
	}

	job.LocalRawPath = acquired.RawPath
	job.LocalDataPath = acquired.DataPath
	job.DownloadedBytes = acquired.Size
	if lastPublished != acquired.Size {
		o.publish(job)
	}
	return false, o.jobRepo.UpdateProgress(ctx, job.ID, map[string]interface{}{
		"local_raw_path":   job.LocalRawPath,
		"local_data_path":  job.LocalDataPath,
		"downloaded_bytes": job.DownloadedBytes,
	})
}

func acquiredRawPath(acquired *source.Acquired, fallback string) string {
	if acquired != nil && acquired.RawPath != "" {
		return acquired.RawPath
	}
	return fallback
}

// count scans the data file once to fix the total row count the batch
// plan is derived from.
func (o *Orchestrator) count(ctx context.Context, job *domain.ImportJob) error {
	o.transition(ctx, job, domain.JobStatusCounting, domain.StageCounting)

	f, err := os.Open(job.LocalDataPath)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	total, err := codec.CountRows(f)
	if err != nil {
		return err
	}
	job.TotalFileRows = total
	if job.TotalRows == 0 {
		job.TotalRows = total
	}

	o.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"total_rows":      total,
	}).Info("Row count complete")
	o.publish(job)
	return o.jobRepo.UpdateProgress(ctx, job.ID, map[string]interface{}{
		"total_file_rows": job.TotalFileRows,
		"total_rows":      job.TotalRows,
	})
}

// processBatches runs the job's pending batches across the worker pool.
// Batch failures are recorded on the batch and never abort siblings or
// fail the job; the job completes with the failed batches left
// reprocessable. Only pre-batch stages fail a job.
func (o *Orchestrator) processBatches(ctx context.Context, job *domain.ImportJob) error {
	pending, err := o.batchRepo.ListByJobAndStatus(ctx, job.ID, domain.BatchStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending batches: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	batchChan := make(chan domain.ImportBatch)
	var completed, failed int64
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchChan {
				if ctx.Err() != nil {
					continue
				}
				if err := o.processor.Process(ctx, job, &batch); err != nil {
					atomic.AddInt64(&failed, 1)
				} else {
					atomic.AddInt64(&completed, 1)
				}
				o.publishCurrent(ctx, job.ID)
			}
		}()
	}

	for _, batch := range pending {
		select {
		case batchChan <- batch:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(batchChan)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		o.log(ctx).WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			"failed":          failed,
			"completed":       completed,
		}).Warn("Job finished with failed batches")
	}
	return nil
}

// Cancel stops a running or queued job. Rows already committed stay in
// the result tables.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to cancel.
// Returns:
//   - error: ErrInvalidTransition if the job is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}

	o.mu.Lock()
	cancel, running := o.cancels[jobID]
	o.mu.Unlock()
	if running {
		// The run loop observes the cancellation and finalizes the job.
		cancel()
		return nil
	}
	return o.finalize(job, domain.JobStatusCancelled, "")
}

// Restart returns a failed or cancelled job to the queue. The batch plan
// is discarded and counters reset; rows already imported stay put and
// are skipped again as duplicates, so a restarted run converges to the
// same table contents.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to restart.
// Returns:
//   - error: ErrInvalidTransition unless the job is failed or cancelled.
func (o *Orchestrator) Restart(ctx context.Context, jobID string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusCancelled {
		return fmt.Errorf("%w: restart requires a failed or cancelled job, got %s", ErrInvalidTransition, job.Status)
	}

	if err := o.batchRepo.DeleteByJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to discard batch plan: %w", err)
	}
	if err := o.jobRepo.ResetCounters(ctx, jobID); err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, domain.JobStatusPending, domain.StageQueued); err != nil {
		return err
	}

	o.log(ctx).WithField(logger.FieldJobID, jobID).Info("Job restarted")
	o.publishCurrent(ctx, jobID)
	return nil
}

// Select resolves a pending archive disambiguation by extracting the
// chosen entry. The job returns to pending; the caller re-enqueues it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job parked in the awaiting selection stage.
//   - entryPath: archive entry chosen by the caller.
// Returns:
//   - error: ErrInvalidTransition if the job is not awaiting selection.
func (o *Orchestrator) Select(ctx context.Context, jobID, entryPath string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Stage != domain.StageAwaitingSelection {
		return fmt.Errorf("%w: job is not awaiting a file selection", ErrInvalidTransition)
	}

	dataPath, err := o.acquirer.Select(ctx, job.LocalRawPath, entryPath, jobID)
	if err != nil {
		return err
	}
	if err := o.jobRepo.UpdateProgress(ctx, jobID, map[string]interface{}{"local_data_path": dataPath}); err != nil {
		return err
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, domain.JobStatusPending, domain.StageQueued); err != nil {
		return err
	}

	o.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: jobID,
		"entry":           entryPath,
	}).Info("Archive file selected")
	o.publishCurrent(ctx, jobID)
	return nil
}

// ReprocessBatch resets one finished batch so the next run redoes it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to reset.
// Returns:
//   - string: owning job ID, for re-enqueueing.
//   - error: ErrInvalidTransition if the batch is still pending or
//     processing.
func (o *Orchestrator) ReprocessBatch(ctx context.Context, batchID string) (string, error) {
	batch, err := o.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status != domain.BatchStatusCompleted && batch.Status != domain.BatchStatusFailed {
		return "", fmt.Errorf("%w: batch is %s", ErrInvalidTransition, batch.Status)
	}
	if err := o.batchRepo.Reset(ctx, batchID); err != nil {
		return "", fmt.Errorf("failed to reset batch: %w", err)
	}
	if err := o.requeue(ctx, batch.JobID); err != nil {
		return "", err
	}
	return batch.JobID, nil
}

// ReprocessFailed resets every failed batch of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - int: number of batches reset.
//   - error: non-nil if a reset fails.
func (o *Orchestrator) ReprocessFailed(ctx context.Context, jobID string) (int, error) {
	failed, err := o.batchRepo.ListByJobAndStatus(ctx, jobID, domain.BatchStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed batches: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}
	for _, batch := range failed {
		if err := o.batchRepo.Reset(ctx, batch.ID); err != nil {
			return 0, fmt.Errorf("failed to reset batch %s: %w", batch.ID, err)
		}
	}
	if err := o.requeue(ctx, jobID); err != nil {
		return 0, err
	}
	return len(failed), nil
}

// Delete removes a terminal job and everything it produced: imported
// rows, the batch plan and any validation runs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to delete.
// Returns:
//   - error: ErrInvalidTransition unless the job is terminal.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: delete requires a terminal job, got %s", ErrInvalidTransition, job.Status)
	}

	if err := o.validationRepo.DeleteByJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete validation data: %w", err)
	}
	if err := o.recordRepo.DeleteByJob(ctx, job.Family, jobID); err != nil {
		return fmt.Errorf("failed to delete imported rows: %w", err)
	}
	if err := o.batchRepo.DeleteByJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete batch plan: %w", err)
	}
	if err := o.jobRepo.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	o.log(ctx).WithField(logger.FieldJobID, jobID).Info("Job deleted")
	return nil
}

// requeue returns a terminal job to pending so the queue can run its
// reset batches.
func (o *Orchestrator) requeue(ctx context.Context, jobID string) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return nil
	}
	return o.jobRepo.UpdateStatus(ctx, jobID, domain.JobStatusPending, domain.StageQueued)
}

// finalize records a terminal status and publishes the last event.
func (o *Orchestrator) finalize(job *domain.ImportJob, status domain.JobStatus, errMsg string) error {
	// Terminal writes use a background context so cancellation cannot
	// lose the final state.
	ctx := context.Background()
	now := time.Now()
	fields := map[string]interface{}{
		"status":       status,
		"stage":        domain.StageDone,
		"completed_at": now,
		"updated_at":   now,
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := o.jobRepo.UpdateProgress(ctx, job.ID, fields); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	o.publishCurrent(ctx, job.ID)
	return nil
}

// transition updates status and stage, keeping the in-memory job in sync.
func (o *Orchestrator) transition(ctx context.Context, job *domain.ImportJob, status domain.JobStatus, stage string) {
	job.Status = status
	job.Stage = stage
	if err := o.jobRepo.UpdateStatus(ctx, job.ID, status, stage); err != nil {
		o.log(ctx).WithField(logger.FieldJobID, job.ID).WithError(err).Error("Failed to persist status transition")
	}
	o.publish(job)
}

func (o *Orchestrator) publish(job *domain.ImportJob) {
	o.bus.Publish(events.ProgressEvent{
		JobID:           job.ID,
		Status:          job.Status,
		Stage:           job.Stage,
		ProcessedRows:   job.ProcessedRows,
		TotalRows:       job.TotalFileRows,
		DownloadedBytes: job.DownloadedBytes,
	})
}

// publishCurrent reloads the job so the event carries rolled-up counters.
func (o *Orchestrator) publishCurrent(ctx context.Context, jobID string) {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return
	}
	o.publish(job)
}
