package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcoelho/apura/internal/ai"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/events"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
	"github.com/rcoelho/apura/internal/source"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testEnv wires the full pipeline against a throwaway SQLite database
// and a temp working directory.
type testEnv struct {
	db         *gorm.DB
	jobRepo    *repository.JobRepository
	batchRepo  *repository.BatchRepository
	recordRepo *repository.RecordRepository
	validRepo  *repository.ValidationRepository
	planner    *Planner
	processor  *BatchProcessor
	orch       *Orchestrator
	queue      *QueueManager
	bus        *events.Bus
	validator  *Validator
	dir        string
	batchSize  int
}

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	log := logger.NewDefault()
	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	validRepo := repository.NewValidationRepository(db)
	bus := events.NewBus()

	acquirer := source.NewAcquirer(&config.AcquisitionConfig{
		WorkDir:      filepath.Join(dir, "work"),
		RetryCount:   0,
		RetryWait:    time.Millisecond,
		RetryMaxWait: time.Millisecond,
		Timeout:      5 * time.Second,
	}, nil, log)

	planner := NewPlanner(batchRepo, batchSize, log)
	processor := NewBatchProcessor(batchRepo, recordRepo, 5, log)
	orch := NewOrchestrator(jobRepo, batchRepo, recordRepo, validRepo, acquirer, planner, processor, bus, 1, log)
	queue := NewQueueManager(orch, log)
	validator := NewValidator(jobRepo, recordRepo, validRepo, ai.Disabled{}, config.ValidationConfig{
		OutlierSigma:      3.0,
		MaxAbstentionRate: 0.5,
		MaxSuggestions:    0,
	}, log)

	return &testEnv{
		db:         db,
		jobRepo:    jobRepo,
		batchRepo:  batchRepo,
		recordRepo: recordRepo,
		validRepo:  validRepo,
		planner:    planner,
		processor:  processor,
		orch:       orch,
		queue:      queue,
		bus:        bus,
		validator:  validator,
		dir:        dir,
		batchSize:  batchSize,
	}
}

// rowSpec overrides selected columns of a generated result file row.
type rowSpec struct {
	year   string
	state  string
	mun    string
	zone   string
	office string
	number string
	name   string
	party  string
	votes  string
	raw    string // when set, used verbatim
}

// candidateRow builds one candidate vote row in the source file layout.
func candidateRow(spec rowSpec) string {
	fields := make([]string, 23)
	for i := range fields {
		fields[i] = fmt.Sprintf("c%02d", i)
	}
	fields[2] = "2022"   // year
	fields[5] = "1"      // round
	fields[6] = "546"    // election code
	fields[10] = "SP"    // state
	fields[12] = "71072" // municipality code
	fields[13] = "SAO PAULO"
	fields[14] = "1"  // zone
	fields[15] = "11" // office code
	fields[16] = "PREFEITO"
	fields[17] = "13" // candidate number
	fields[18] = "CANDIDATE A"
	fields[19] = "13" // party number
	fields[20] = "PT"
	fields[21] = "N" // transit
	fields[22] = "100"

	if spec.year != "" {
		fields[2] = spec.year
	}
	if spec.state != "" {
		fields[10] = spec.state
	}
	if spec.mun != "" {
		fields[12] = spec.mun
	}
	if spec.zone != "" {
		fields[14] = spec.zone
	}
	if spec.office != "" {
		fields[15] = spec.office
	}
	if spec.number != "" {
		fields[17] = spec.number
	}
	if spec.name != "" {
		fields[18] = spec.name
	}
	if spec.party != "" {
		fields[19] = spec.party
	}
	if spec.votes != "" {
		fields[22] = spec.votes
	}

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, ";")
}

// writeVotesFile writes a candidate votes file with a header line.
func writeVotesFile(t *testing.T, dir string, rows []rowSpec) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(strings.Repeat(`"HDR";`, 22) + `"HDR"` + "\n")
	for _, spec := range rows {
		if spec.raw != "" {
			b.WriteString(spec.raw + "\n")
			continue
		}
		b.WriteString(candidateRow(spec) + "\n")
	}
	path := filepath.Join(dir, "votacao_candidato.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("failed to write votes file: %v", err)
	}
	return path
}

// distinctRows generates n valid rows with unique zones so every row
// lands as a distinct record.
func distinctRows(n int) []rowSpec {
	rows := make([]rowSpec, n)
	for i := 0; i < n; i++ {
		rows[i] = rowSpec{zone: fmt.Sprintf("%d", i+1)}
	}
	return rows
}

// submitUpload creates a job for a local votes file.
func (e *testEnv) submitUpload(t *testing.T, path string) *domain.ImportJob {
	t.Helper()
	job, err := e.orch.Submit(t.Context(), SubmitRequest{
		SourceKind: domain.SourceKindUpload,
		SourceName: filepath.Base(path),
		LocalPath:  path,
		Family:     domain.FamilyCandidateVotes,
	})
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}
	return job
}

func (e *testEnv) runJob(t *testing.T, jobID string) *domain.ImportJob {
	t.Helper()
	if err := e.orch.Run(t.Context(), jobID); err != nil {
		t.Fatalf("job run failed: %v", err)
	}
	job, err := e.jobRepo.GetByID(t.Context(), jobID)
	if err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	return job
}
