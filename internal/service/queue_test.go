package service

import (
	"errors"
	"testing"

	"github.com/rcoelho/apura/internal/domain"
)

// Jobs run strictly in submission order, one at a time.
func TestQueueRunsJobsInOrder(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	first := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(3)))
	second := env.submitUpload(t, writeVotesFile(t, env.dir, []rowSpec{{zone: "99"}}))

	if pos, err := env.queue.Enqueue(first.ID); err != nil || pos != 1 {
		t.Fatalf("first enqueue: got pos=%d err=%v, want pos=1", pos, err)
	}
	if pos, err := env.queue.Enqueue(second.ID); err != nil || pos != 2 {
		t.Fatalf("second enqueue: got pos=%d err=%v, want pos=2", pos, err)
	}

	status := env.queue.Status()
	if status.QueueLength != 2 {
		t.Fatalf("got queue length %d, want 2", status.QueueLength)
	}
	if status.Queue[0].JobID != first.ID || status.Queue[1].JobID != second.ID {
		t.Error("queue order does not match submission order")
	}

	env.queue.Drain(ctx)

	for _, id := range []string{first.ID, second.ID} {
		job, err := env.jobRepo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("failed to reload job: %v", err)
		}
		if job.Status != domain.JobStatusCompleted {
			t.Errorf("job %s: got status %s, want completed", id, job.Status)
		}
	}

	firstJob, _ := env.jobRepo.GetByID(ctx, first.ID)
	secondJob, _ := env.jobRepo.GetByID(ctx, second.ID)
	if firstJob.CompletedAt == nil || secondJob.StartedAt == nil {
		t.Fatal("expected both jobs to have run")
	}
	if secondJob.StartedAt.Before(*firstJob.CompletedAt) {
		t.Error("second job started before the first completed")
	}
}

// A failing job must not block the jobs behind it.
func TestQueueAdvancesPastFailedJob(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	broken := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(3)))
	// Point the job at a file that no longer exists.
	broken.LocalRawPath = env.dir + "/missing.csv"
	if err := env.jobRepo.Update(ctx, broken); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}
	healthy := env.submitUpload(t, writeVotesFile(t, env.dir, []rowSpec{{zone: "7"}}))

	if _, err := env.queue.Enqueue(broken.ID); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := env.queue.Enqueue(healthy.ID); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	env.queue.Drain(ctx)

	brokenJob, err := env.jobRepo.GetByID(ctx, broken.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if brokenJob.Status != domain.JobStatusFailed {
		t.Errorf("broken job: got status %s, want failed", brokenJob.Status)
	}
	if brokenJob.Error == "" {
		t.Error("broken job should record an error message")
	}

	healthyJob, err := env.jobRepo.GetByID(ctx, healthy.ID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if healthyJob.Status != domain.JobStatusCompleted {
		t.Errorf("healthy job: got status %s, want completed", healthyJob.Status)
	}
}

func TestQueueRejectsDuplicateEnqueue(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if _, err := env.queue.Enqueue(job.ID); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := env.queue.Enqueue(job.ID); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("got %v, want ErrAlreadyQueued", err)
	}
}

func TestQueueRemoveDropsWaitingJob(t *testing.T) {
	env := newTestEnv(t, 5)

	job := env.submitUpload(t, writeVotesFile(t, env.dir, distinctRows(2)))
	if _, err := env.queue.Enqueue(job.ID); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !env.queue.Remove(job.ID) {
		t.Fatal("expected the waiting job to be removed")
	}
	if env.queue.Remove(job.ID) {
		t.Fatal("second removal should report the job as absent")
	}
	if got := env.queue.Status().QueueLength; got != 0 {
		t.Fatalf("got queue length %d, want 0", got)
	}
}
