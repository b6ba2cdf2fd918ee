package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rcoelho/apura/internal/domain"
)

func TestPlanRanges(t *testing.T) {
	testCases := []struct {
		name      string
		totalRows int64
		batchSize int
		want      [][2]int64
	}{
		{
			name:      "exact multiple",
			totalRows: 10,
			batchSize: 5,
			want:      [][2]int64{{0, 5}, {5, 10}},
		},
		{
			name:      "short last batch",
			totalRows: 12,
			batchSize: 5,
			want:      [][2]int64{{0, 5}, {5, 10}, {10, 12}},
		},
		{
			name:      "single batch",
			totalRows: 3,
			batchSize: 100,
			want:      [][2]int64{{0, 3}},
		},
		{
			name:      "empty file",
			totalRows: 0,
			batchSize: 5,
			want:      nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := PlanRanges(tc.totalRows, tc.batchSize)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d ranges, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("range %d: got %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

// Every row must belong to exactly one range regardless of how the
// total divides.
func TestPlanRangesCoverEveryRowOnce(t *testing.T) {
	const total, size = 1043, 100
	ranges := PlanRanges(total, size)

	seen := make(map[int64]int)
	for _, r := range ranges {
		if r[0] >= r[1] {
			t.Fatalf("empty range %v", r)
		}
		for row := r[0]; row < r[1]; row++ {
			seen[row]++
		}
	}
	if len(seen) != total {
		t.Fatalf("covered %d rows, want %d", len(seen), total)
	}
	for row, n := range seen {
		if n != 1 {
			t.Errorf("row %d covered %d times", row, n)
		}
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := t.Context()

	job := &domain.ImportJob{
		ID:            uuid.New().String(),
		SourceKind:    domain.SourceKindUpload,
		SourceName:    "votes.csv",
		Family:        domain.FamilyCandidateVotes,
		Status:        domain.JobStatusProcessing,
		TotalFileRows: 12,
	}
	if err := env.jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	first, err := env.planner.Plan(ctx, job)
	if err != nil {
		t.Fatalf("first plan failed: %v", err)
	}
	if first != 3 {
		t.Fatalf("got %d batches, want 3", first)
	}

	batchesBefore, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}

	second, err := env.planner.Plan(ctx, job)
	if err != nil {
		t.Fatalf("second plan failed: %v", err)
	}
	if second != 3 {
		t.Fatalf("replan reported %d batches, want 3", second)
	}

	batchesAfter, err := env.batchRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(batchesAfter) != len(batchesBefore) {
		t.Fatalf("replan changed batch count: %d -> %d", len(batchesBefore), len(batchesAfter))
	}
	for i := range batchesBefore {
		if batchesBefore[i].ID != batchesAfter[i].ID {
			t.Errorf("batch %d identity changed on replan", i)
		}
	}
}
