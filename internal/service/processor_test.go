package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rcoelho/apura/internal/domain"
)

// Ten data rows, two of them malformed, batch size five: the job
// completes with every row accounted for and eight rows in the table.
func TestPipelineCountsMalformedRows(t *testing.T) {
	env := newTestEnv(t, 5)

	rows := distinctRows(10)
	rows[3] = rowSpec{raw: `"too";"short"`}
	rows[7] = rowSpec{zone: "8", votes: "-5"}
	path := writeVotesFile(t, env.dir, rows)

	job := env.submitUpload(t, path)
	job = env.runJob(t, job.ID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("got status %s, want completed (error: %s)", job.Status, job.Error)
	}
	if job.TotalFileRows != 10 {
		t.Errorf("got total_file_rows %d, want 10", job.TotalFileRows)
	}
	if job.ProcessedRows != 10 {
		t.Errorf("got processed_rows %d, want 10", job.ProcessedRows)
	}
	if job.ErrorCount != 2 {
		t.Errorf("got error_count %d, want 2", job.ErrorCount)
	}

	count, err := env.recordRepo.CountByJob(t.Context(), domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 8 {
		t.Errorf("got %d imported rows, want 8", count)
	}

	batches, err := env.batchRepo.ListByJob(t.Context(), job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	for _, b := range batches {
		if b.Status != domain.BatchStatusCompleted {
			t.Errorf("batch %d: got status %s, want completed", b.BatchIndex, b.Status)
		}
	}
	if batches[0].ErrorSummary == "" {
		t.Error("first batch should carry an error summary for its malformed row")
	}
}

// Reprocessing a finished batch must converge to the same counters and
// table contents as the first run.
func TestReprocessBatchConverges(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	rows := distinctRows(10)
	rows[3] = rowSpec{raw: `"too";"short"`}
	path := writeVotesFile(t, env.dir, rows)

	job := env.submitUpload(t, path)
	job = env.runJob(t, job.ID)
	firstProcessed := job.ProcessedRows
	firstErrors := job.ErrorCount

	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}

	for round := 0; round < 3; round++ {
		for _, b := range batches {
			if _, err := env.orch.ReprocessBatch(ctx, b.ID); err != nil {
				t.Fatalf("round %d: failed to reprocess batch %d: %v", round, b.BatchIndex, err)
			}
			job = env.runJob(t, job.ID)
		}
	}

	if job.ProcessedRows != firstProcessed {
		t.Errorf("processed_rows drifted: got %d, want %d", job.ProcessedRows, firstProcessed)
	}
	if job.ErrorCount != firstErrors {
		t.Errorf("error_count drifted: got %d, want %d", job.ErrorCount, firstErrors)
	}

	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 9 {
		t.Errorf("got %d imported rows, want 9", count)
	}
}

// A pending batch cannot be reprocessed.
func TestReprocessBatchRequiresFinishedBatch(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(7)))
	job.TotalFileRows = 7
	job.Status = domain.JobStatusProcessing
	if err := env.jobRepo.Update(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}
	if _, err := env.planner.Plan(ctx, job); err != nil {
		t.Fatalf("failed to plan: %v", err)
	}

	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if _, err := env.orch.ReprocessBatch(ctx, batches[0].ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

// Cancellation between batches keeps the committed rows and marks the
// interrupted batch failed.
func TestCancellationRetainsCommittedRows(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	path := writeVotesFile(t, env.dir, distinctRows(10))
	job := env.submitUpload(t, path)
	job.LocalDataPath = path
	job.TotalFileRows = 10
	job.Status = domain.JobStatusProcessing
	if err := env.jobRepo.Update(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}
	if _, err := env.planner.Plan(ctx, job); err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}

	if err := env.processor.Process(ctx, job, &batches[0]); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := env.processor.Process(cancelled, job, &batches[1]); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 5 {
		t.Errorf("got %d rows, want the 5 committed before cancellation", count)
	}

	second, err := env.batchRepo.GetByID(ctx, batches[1].ID)
	if err != nil {
		t.Fatalf("failed to reload batch: %v", err)
	}
	if second.Status != domain.BatchStatusFailed {
		t.Errorf("interrupted batch: got status %s, want failed", second.Status)
	}
}

// A claimed batch is skipped by later callers.
func TestProcessSkipsNonPendingBatch(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	path := writeVotesFile(t, env.dir, distinctRows(5))
	job := env.submitUpload(t, path)
	job.LocalDataPath = path
	job.TotalFileRows = 5
	if err := env.jobRepo.Update(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}
	if _, err := env.planner.Plan(ctx, job); err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}

	if err := env.processor.Process(ctx, job, &batches[0]); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	// Second run against the now-completed batch must change nothing.
	if err := env.processor.Process(ctx, job, &batches[0]); err != nil {
		t.Fatalf("second run errored: %v", err)
	}

	reloaded, err := env.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if reloaded.ProcessedRows != 5 {
		t.Errorf("got processed_rows %d, want 5 (no double roll-up)", reloaded.ProcessedRows)
	}
}
