package service

import (
	"errors"
	"testing"

	"github.com/rcoelho/apura/internal/domain"
)

func TestSubmitRejectsMalformedFilters(t *testing.T) {
	env := newTestEnv(t, 5)
	path := writeVotesFile(t, env.dir, distinctRows(1))

	testCases := []struct {
		name string
		req  SubmitRequest
	}{
		{
			name: "unknown family",
			req: SubmitRequest{
				SourceKind: domain.SourceKindUpload,
				SourceName: "votes.csv",
				LocalPath:  path,
				Family:     domain.RecordFamily("ballots"),
			},
		},
		{
			name: "year out of range",
			req: SubmitRequest{
				SourceKind: domain.SourceKindUpload,
				SourceName: "votes.csv",
				LocalPath:  path,
				Family:     domain.FamilyCandidateVotes,
				Filters:    domain.ImportFilters{Year: 22},
			},
		},
		{
			name: "lowercase state",
			req: SubmitRequest{
				SourceKind: domain.SourceKindUpload,
				SourceName: "votes.csv",
				LocalPath:  path,
				Family:     domain.FamilyCandidateVotes,
				Filters:    domain.ImportFilters{State: "sp"},
			},
		},
		{
			name: "three letter state",
			req: SubmitRequest{
				SourceKind: domain.SourceKindUpload,
				SourceName: "votes.csv",
				LocalPath:  path,
				Family:     domain.FamilyCandidateVotes,
				Filters:    domain.ImportFilters{State: "SPX"},
			},
		},
		{
			name: "negative position",
			req: SubmitRequest{
				SourceKind: domain.SourceKindUpload,
				SourceName: "votes.csv",
				LocalPath:  path,
				Family:     domain.FamilyCandidateVotes,
				Filters:    domain.ImportFilters{PositionCode: -1},
			},
		},
		{
			name: "url kind without url",
			req: SubmitRequest{
				SourceKind: domain.SourceKindURL,
				SourceName: "votes.csv",
				Family:     domain.FamilyCandidateVotes,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.orch.Submit(t.Context(), tc.req); !errors.Is(err, ErrInvalidFilters) {
				t.Fatalf("got %v, want ErrInvalidFilters", err)
			}
		})
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if job.Status != domain.JobStatusPending {
		t.Errorf("got status %s, want pending", job.Status)
	}
	if job.Stage != domain.StageQueued {
		t.Errorf("got stage %s, want queued", job.Stage)
	}

	reloaded, err := env.jobRepo.GetByID(t.Context(), job.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if reloaded.Family != domain.FamilyCandidateVotes {
		t.Errorf("got family %s, want candidate_votes", reloaded.Family)
	}
}

// Filters recorded at submission restrict which rows are imported.
func TestRunAppliesImportFilters(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := t.Context()

	rows := distinctRows(4)
	rows[2].state = "RJ"
	rows[3].state = "RJ"
	path := writeVotesFile(t, env.dir, rows)

	job, err := env.orch.Submit(ctx, SubmitRequest{
		SourceKind: domain.SourceKindUpload,
		SourceName: "votes.csv",
		LocalPath:  path,
		Family:     domain.FamilyCandidateVotes,
		Filters:    domain.ImportFilters{State: "SP"},
	})
	if err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	job = env.runJob(t, job.ID)

	if job.SkippedRows != 2 {
		t.Errorf("got skipped_rows %d, want 2", job.SkippedRows)
	}
	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("got %d rows, want the 2 matching the state filter", count)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if err := env.orch.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	reloaded, err := env.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if reloaded.Status != domain.JobStatusCancelled {
		t.Errorf("got status %s, want cancelled", reloaded.Status)
	}

	// Terminal jobs reject a second cancel.
	if err := env.orch.Cancel(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}

	// A cancelled job does not run.
	if err := env.orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	reloaded, _ = env.jobRepo.GetByID(ctx, job.ID)
	if reloaded.Status != domain.JobStatusCancelled {
		t.Errorf("run changed a cancelled job to %s", reloaded.Status)
	}
}

// A restarted job converges to the same table contents as an
// uninterrupted run, with rows already imported skipped as duplicates.
func TestRestartResumesWithoutDuplicates(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	path := writeVotesFile(t, env.dir, distinctRows(10))
	job := env.submitUpload(t, path)

	// First attempt: process only the first batch, then cancel.
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
	if err := env.orch.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if err := env.orch.Restart(ctx, job.ID); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	restarted, err := env.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if restarted.Status != domain.JobStatusPending {
		t.Fatalf("got status %s, want pending after restart", restarted.Status)
	}
	if n, err := env.batchRepo.CountByJob(ctx, job.ID); err != nil || n != 0 {
		t.Fatalf("got %d batches after restart, want 0 (err=%v)", n, err)
	}

	final := env.runJob(t, job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("got status %s, want completed (error: %s)", final.Status, final.Error)
	}
	if final.ProcessedRows != 10 {
		t.Errorf("got processed_rows %d, want 10", final.ProcessedRows)
	}

	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 10 {
		t.Errorf("got %d rows, want 10 with no duplicates", count)
	}
	// The five rows from the first attempt were skipped as already
	// present, not re-inserted.
	if final.SkippedRows != 5 {
		t.Errorf("got skipped_rows %d, want 5", final.SkippedRows)
	}
}

func TestRestartRequiresTerminalFailure(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if err := env.orch.Restart(t.Context(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestReprocessFailedWithNoFailedBatches(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(3)))
	env.runJob(t, job.ID)

	n, err := env.orch.ReprocessFailed(t.Context(), job.ID)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d reset batches, want 0", n)
	}
}

func TestDeleteRemovesJobData(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(4)))
	env.runJob(t, job.ID)

	// A completed job counts as terminal and can be deleted.
	if err := env.orch.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := env.jobRepo.GetByID(ctx, job.ID); err == nil {
		t.Error("job still loadable after delete")
	}
	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("got %d batches after delete, want 0", len(batches))
	}
	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d rows after delete, want 0", count)
	}
}

func TestDeleteRequiresTerminalJob(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if err := env.orch.Delete(t.Context(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

// Infrastructure failures inside a batch stay on the batch. The job
// still completes and the batch remains reprocessable.
func TestBatchFailuresDoNotFailJob(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(3)))
	if err := env.db.Exec("ALTER TABLE candidate_votes RENAME TO candidate_votes_parked").Error; err != nil {
		t.Fatalf("failed to park table: %v", err)
	}

	reloaded := env.runJob(t, job.ID)
	if reloaded.Status != domain.JobStatusCompleted {
		t.Errorf("got status %s, want completed", reloaded.Status)
	}

	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].Status != domain.BatchStatusFailed {
		t.Errorf("got batch status %s, want failed", batches[0].Status)
	}
	if batches[0].ErrorSummary == "" {
		t.Error("failed batch should record an error summary")
	}
}

// An insert failure is recoverable: reprocessing the failed batches
// imports the missing rows exactly once.
func TestReprocessFailedRecoversInsertFailure(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(10)))
	if err := env.db.Exec("ALTER TABLE candidate_votes RENAME TO candidate_votes_parked").Error; err != nil {
		t.Fatalf("failed to park table: %v", err)
	}

	env.runJob(t, job.ID)
	failed, err := env.batchRepo.ListByJobAndStatus(ctx, job.ID, domain.BatchStatusFailed)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("got %d failed batches, want 2", len(failed))
	}

	if err := env.db.Exec("ALTER TABLE candidate_votes_parked RENAME TO candidate_votes").Error; err != nil {
		t.Fatalf("failed to restore table: %v", err)
	}

	n, err := env.orch.ReprocessFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d reset batches, want 2", n)
	}

	reloaded := env.runJob(t, job.ID)
	if reloaded.Status != domain.JobStatusCompleted {
		t.Errorf("got status %s, want completed", reloaded.Status)
	}

	stillFailed, err := env.batchRepo.ListByJobAndStatus(ctx, job.ID, domain.BatchStatusFailed)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(stillFailed) != 0 {
		t.Errorf("got %d failed batches after recovery, want 0", len(stillFailed))
	}

	count, err := env.recordRepo.CountByJob(ctx, domain.FamilyCandidateVotes, job.ID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 10 {
		t.Errorf("got %d rows, want 10", count)
	}
	if reloaded.ProcessedRows != 10 || reloaded.SkippedRows != 0 {
		t.Errorf("got processed=%d skipped=%d, want 10 and 0", reloaded.ProcessedRows, reloaded.SkippedRows)
	}

	batches, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	var inserted int64
	for _, b := range batches {
		inserted += b.InsertedRows
	}
	if inserted != 10 {
		t.Errorf("got %d inserted rows across batches, want 10", inserted)
	}
}
