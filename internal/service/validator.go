package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rcoelho/apura/internal/ai"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/repository"
)

// Validator runs read-only analytical passes over a completed job's
// imported rows. Checks never alter result data; every anomaly becomes a
// persisted issue a reviewer resolves or ignores explicitly. The same
// data always yields the same issues in the same order.
type Validator struct {
	jobRepo        *repository.JobRepository
	recordRepo     *repository.RecordRepository
	validationRepo *repository.ValidationRepository
	suggester      ai.Suggester
	cfg            config.ValidationConfig
	logger         *logger.Logger
}

// NewValidator creates a new Validator.
func NewValidator(
	jobRepo *repository.JobRepository,
	recordRepo *repository.RecordRepository,
	validationRepo *repository.ValidationRepository,
	suggester ai.Suggester,
	cfg config.ValidationConfig,
	log *logger.Logger,
) *Validator {
	if suggester == nil {
		suggester = ai.Disabled{}
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = 3.0
	}
	if cfg.MaxAbstentionRate <= 0 {
		cfg.MaxAbstentionRate = 0.5
	}
	return &Validator{
		jobRepo:        jobRepo,
		recordRepo:     recordRepo,
		validationRepo: validationRepo,
		suggester:      suggester,
		cfg:            cfg,
		logger:         log,
	}
}

func (v *Validator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return v.logger
}

// Run executes one validation pass over a job's rows.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: completed job to validate.
// Returns:
//   - *domain.ValidationRun: persisted run with issue counts.
//   - error: ErrInvalidTransition if the job has not completed, or a
//     wrapped persistence error. Suggestion failures are never returned.
func (v *Validator) Run(ctx context.Context, jobID string) (*domain.ValidationRun, error) {
	job, err := v.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: validation requires a completed job, got %s", ErrInvalidTransition, job.Status)
	}

	run := &domain.ValidationRun{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := v.validationRepo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create validation run: %w", err)
	}

	if err := v.jobRepo.UpdateStatus(ctx, jobID, domain.JobStatusValidating, domain.StageValidating); err != nil {
		return nil, err
	}
	// The job returns to completed whatever the run's outcome.
	defer func() {
		if err := v.jobRepo.UpdateStatus(context.Background(), jobID, domain.JobStatusCompleted, domain.StageDone); err != nil {
			v.log(ctx).WithField(logger.FieldJobID, jobID).WithError(err).Error("Failed to restore job status")
		}
	}()

	v.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: jobID,
		logger.FieldRunID: run.ID,
		"family":          string(job.Family),
	}).Info("Validation run started")

	checked, issues, err := v.check(ctx, job, run.ID)
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		now := time.Now()
		run.CompletedAt = &now
		if uerr := v.validationRepo.UpdateRun(ctx, run); uerr != nil {
			v.log(ctx).WithField(logger.FieldRunID, run.ID).WithError(uerr).Error("Failed to record run failure")
		}
		return run, err
	}

	v.enrich(ctx, job, issues)
	if analysis, serr := v.suggester.Summarize(ctx, job, issues); serr != nil {
		v.log(ctx).WithField(logger.FieldRunID, run.ID).WithError(serr).Warn("Narrative analysis failed, continuing without one")
	} else {
		run.AIAnalysis = analysis
	}

	if err := v.validationRepo.CreateIssues(ctx, issues); err != nil {
		return nil, fmt.Errorf("failed to persist issues: %w", err)
	}

	run.Status = domain.RunStatusCompleted
	run.TotalRecordsChecked = checked
	run.IssuesFound = int64(len(issues))
	run.Summary = summarize(issues)
	now := time.Now()
	run.CompletedAt = &now
	if err := v.validationRepo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to complete validation run: %w", err)
	}

	v.log(ctx).WithFields(logger.Fields{
		logger.FieldRunID: run.ID,
		"checked":         checked,
		"issues":          len(issues),
	}).Info("Validation run completed")
	return run, nil
}

// check dispatches the family-specific checks in a fixed order.
func (v *Validator) check(ctx context.Context, job *domain.ImportJob, runID string) (int64, []domain.ValidationIssue, error) {
	c := &issueCollector{runID: runID}
	var checked int64

	switch job.Family {
	case domain.FamilyCandidateVotes:
		votes, err := v.recordRepo.CandidateVotesByJob(ctx, job.ID)
		if err != nil {
			return 0, nil, err
		}
		sortCandidateVotes(votes)
		checked = int64(len(votes))

		if err := v.checkCrossFoot(ctx, job.ID, c); err != nil {
			return 0, nil, err
		}
		if err := v.checkDuplicates(ctx, job.ID, c); err != nil {
			return 0, nil, err
		}
		if err := v.checkCandidateIdentity(ctx, votes, c); err != nil {
			return 0, nil, err
		}
		v.checkOutliers(votes, c)

	case domain.FamilyElectionStats:
		stats, err := v.recordRepo.StatsByJob(ctx, job.ID)
		if err != nil {
			return 0, nil, err
		}
		sortStats(stats)
		checked = int64(len(stats))
		v.checkStatsConsistency(stats, c)
		v.checkAbstention(stats, c)

	case domain.FamilyPartyVotes:
		// Party files have no declared totals to cross-foot; only field
		// completeness is checkable in isolation.
		partyVotes, err := v.partyVotesByJob(ctx, job.ID)
		if err != nil {
			return 0, nil, err
		}
		checked = int64(len(partyVotes))
		v.checkPartyFields(partyVotes, c)
	}

	return checked, c.issues, nil
}

func (v *Validator) partyVotesByJob(ctx context.Context, jobID string) ([]domain.PartyVote, error) {
	votes, err := v.recordRepo.PartyVotesByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sort.Slice(votes, func(i, j int) bool {
		a, b := votes[i], votes[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.MunicipalityCode != b.MunicipalityCode {
			return a.MunicipalityCode < b.MunicipalityCode
		}
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		return a.PartyNumber < b.PartyNumber
	})
	return votes, nil
}

// checkCrossFoot compares summed candidate votes per zone against the
// declared nominal totals, when a statistics file for the same key has
// been imported.
func (v *Validator) checkCrossFoot(ctx context.Context, jobID string, c *issueCollector) error {
	totals, err := v.recordRepo.CandidateZoneTotals(ctx, jobID)
	if err != nil {
		return err
	}
	sort.Slice(totals, func(i, j int) bool {
		return zoneKeyLess(totals[i], totals[j])
	})

	for _, t := range totals {
		stats, err := v.recordRepo.StatsForKey(ctx, t)
		if err != nil {
			return err
		}
		if stats == nil {
			continue
		}
		if t.TotalVotes != stats.NominalVotes {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueVoteCount,
				Severity:     domain.SeverityError,
				Category:     domain.CategoryConsistency,
				RowReference: zoneRef(t),
				Field:        "votes",
				CurrentValue: strconv.FormatInt(t.TotalVotes, 10),
				Message: fmt.Sprintf("candidate votes sum to %d but the statistics file declares %d nominal votes",
					t.TotalVotes, stats.NominalVotes),
			})
		}
	}
	return nil
}

// checkDuplicates looks for repeated natural keys. The unique index makes
// these unreachable through the import path, so any hit points at an
// out-of-band write.
func (v *Validator) checkDuplicates(ctx context.Context, jobID string, c *issueCollector) error {
	dups, err := v.recordRepo.DuplicateCandidateKeys(ctx, jobID)
	if err != nil {
		return err
	}
	sort.Slice(dups, func(i, j int) bool {
		a, b := dups[i], dups[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		return a.EntityNumber < b.EntityNumber
	})
	for _, d := range dups {
		c.add(domain.ValidationIssue{
			Type:     domain.IssueDuplicate,
			Severity: domain.SeverityError,
			Category: domain.CategoryDataQuality,
			RowReference: fmt.Sprintf("%s mun=%d zone=%d office=%d number=%d",
				d.State, d.MunicipalityCode, d.Zone, d.OfficeCode, d.EntityNumber),
			CurrentValue: strconv.FormatInt(d.Occurrences, 10),
			Message:      fmt.Sprintf("key appears %d times", d.Occurrences),
		})
	}
	return nil
}

// checkCandidateIdentity verifies candidate numbers and names. A ballot
// number's leading digits are the party number, so a mismatch means one
// of the two fields is wrong. Party numbers are cross-checked against the
// party vote table when one has been loaded for the same year.
func (v *Validator) checkCandidateIdentity(ctx context.Context, votes []domain.CandidateVote, c *issueCollector) error {
	knownParties := map[int]bool{}
	partyCheck := false
	if len(votes) > 0 {
		year := votes[0].Year
		has, err := v.recordRepo.HasPartyVotes(ctx, year)
		if err != nil {
			return err
		}
		if has {
			numbers, err := v.recordRepo.KnownPartyNumbers(ctx, year)
			if err != nil {
				return err
			}
			for _, n := range numbers {
				knownParties[n] = true
			}
			partyCheck = true
		}
	}

	for i := range votes {
		vote := &votes[i]
		ref := candidateRef(vote)

		if vote.CandidateNumber <= 0 {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueCandidateID,
				Severity:     domain.SeverityError,
				Category:     domain.CategoryFormat,
				RowReference: ref,
				Field:        "candidate_number",
				CurrentValue: strconv.Itoa(vote.CandidateNumber),
				Message:      "candidate number must be positive",
			})
			continue
		}
		if vote.PartyNumber > 0 &&
			!strings.HasPrefix(strconv.Itoa(vote.CandidateNumber), strconv.Itoa(vote.PartyNumber)) {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueCandidateID,
				Severity:     domain.SeverityWarning,
				Category:     domain.CategoryConsistency,
				RowReference: ref,
				Field:        "candidate_number",
				CurrentValue: strconv.Itoa(vote.CandidateNumber),
				Message: fmt.Sprintf("ballot number %d does not start with party number %d",
					vote.CandidateNumber, vote.PartyNumber),
			})
		}
		if partyCheck && vote.PartyNumber > 0 && !knownParties[vote.PartyNumber] {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueCandidateID,
				Severity:     domain.SeverityWarning,
				Category:     domain.CategoryConsistency,
				RowReference: ref,
				Field:        "party_number",
				CurrentValue: strconv.Itoa(vote.PartyNumber),
				Message:      fmt.Sprintf("party %d has no rows in the party vote table for %d", vote.PartyNumber, vote.Year),
			})
		}
		if vote.CandidateName == "" {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueMissingField,
				Severity:     domain.SeverityWarning,
				Category:     domain.CategoryDataQuality,
				RowReference: ref,
				Field:        "candidate_name",
				Message:      "candidate name is empty",
			})
		}
	}
	return nil
}

// raceKey identifies one contest for outlier grouping.
type raceKey struct {
	Year       int
	Round      int
	State      string
	OfficeCode int
}

// checkOutliers flags candidates whose statewide total deviates from the
// mean of their race by more than the configured number of standard
// deviations. Races with fewer than three candidates are skipped.
func (v *Validator) checkOutliers(votes []domain.CandidateVote, c *issueCollector) {
	races := map[raceKey]map[int]int64{}
	for i := range votes {
		vote := &votes[i]
		key := raceKey{Year: vote.Year, Round: vote.Round, State: vote.State, OfficeCode: vote.OfficeCode}
		if races[key] == nil {
			races[key] = map[int]int64{}
		}
		races[key][vote.CandidateNumber] += vote.Votes
	}

	keys := make([]raceKey, 0, len(races))
	for key := range races {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.State != b.State {
			return a.State < b.State
		}
		return a.OfficeCode < b.OfficeCode
	})

	for _, key := range keys {
		byCandidate := races[key]
		if len(byCandidate) < 3 {
			continue
		}

		numbers := make([]int, 0, len(byCandidate))
		var sum float64
		for number, total := range byCandidate {
			numbers = append(numbers, number)
			sum += float64(total)
		}
		sort.Ints(numbers)

		mean := sum / float64(len(numbers))
		var variance float64
		for _, number := range numbers {
			d := float64(byCandidate[number]) - mean
			variance += d * d
		}
		variance /= float64(len(numbers))
		stddev := math.Sqrt(variance)
		if stddev == 0 {
			continue
		}

		for _, number := range numbers {
			total := byCandidate[number]
			z := (float64(total) - mean) / stddev
			if math.Abs(z) <= v.cfg.OutlierSigma {
				continue
			}
			c.add(domain.ValidationIssue{
				Type:     domain.IssueStatisticalOutlier,
				Severity: domain.SeverityInfo,
				Category: domain.CategoryStatistical,
				RowReference: fmt.Sprintf("%s office=%d round=%d number=%d",
					key.State, key.OfficeCode, key.Round, number),
				Field:        "votes",
				CurrentValue: strconv.FormatInt(total, 10),
				Message: fmt.Sprintf("candidate total %d is %.1f standard deviations from the race mean %.0f",
					total, z, mean),
			})
		}
	}
}

// checkStatsConsistency verifies the arithmetic identities inside each
// declared statistics row.
func (v *Validator) checkStatsConsistency(stats []domain.ElectionStats, c *issueCollector) {
	for i := range stats {
		s := &stats[i]
		ref := statsRef(s)

		if s.Eligible > 0 && s.Attendance+s.Abstentions != s.Eligible {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueVoteCount,
				Severity:     domain.SeverityError,
				Category:     domain.CategoryConsistency,
				RowReference: ref,
				Field:        "attendance",
				CurrentValue: strconv.FormatInt(s.Attendance, 10),
				Message: fmt.Sprintf("attendance %d plus abstentions %d does not equal eligible %d",
					s.Attendance, s.Abstentions, s.Eligible),
			})
		}
		if s.TotalVotes > 0 && s.ValidVotes+s.BlankVotes+s.NullVotes != s.TotalVotes {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueVoteCount,
				Severity:     domain.SeverityError,
				Category:     domain.CategoryConsistency,
				RowReference: ref,
				Field:        "total_votes",
				CurrentValue: strconv.FormatInt(s.TotalVotes, 10),
				Message: fmt.Sprintf("valid %d + blank %d + null %d does not equal total %d",
					s.ValidVotes, s.BlankVotes, s.NullVotes, s.TotalVotes),
			})
		}
		if s.ValidVotes > 0 && s.NominalVotes+s.ListVotes != s.ValidVotes {
			c.add(domain.ValidationIssue{
				Type:         domain.IssueVoteCount,
				Severity:     domain.SeverityWarning,
				Category:     domain.CategoryConsistency,
				RowReference: ref,
				Field:        "valid_votes",
				CurrentValue: strconv.FormatInt(s.ValidVotes, 10),
				Message: fmt.Sprintf("nominal %d + list %d does not equal valid %d",
					s.NominalVotes, s.ListVotes, s.ValidVotes),
			})
		}
	}
}

// checkAbstention flags zones whose abstention rate exceeds the
// configured ceiling.
func (v *Validator) checkAbstention(stats []domain.ElectionStats, c *issueCollector) {
	for i := range stats {
		s := &stats[i]
		if s.Eligible <= 0 {
			continue
		}
		rate := float64(s.Abstentions) / float64(s.Eligible)
		if rate <= v.cfg.MaxAbstentionRate {
			continue
		}
		c.add(domain.ValidationIssue{
			Type:         domain.IssueAbstentionRate,
			Severity:     domain.SeverityWarning,
			Category:     domain.CategoryStatistical,
			RowReference: statsRef(s),
			Field:        "abstentions",
			CurrentValue: strconv.FormatInt(s.Abstentions, 10),
			Message:      fmt.Sprintf("abstention rate %.1f%% exceeds %.1f%%", rate*100, v.cfg.MaxAbstentionRate*100),
		})
	}
}

func (v *Validator) checkPartyFields(votes []domain.PartyVote, c *issueCollector) {
	for i := range votes {
		vote := &votes[i]
		if vote.PartyAbbr != "" {
			continue
		}
		c.add(domain.ValidationIssue{
			Type:     domain.IssueMissingField,
			Severity: domain.SeverityWarning,
			Category: domain.CategoryDataQuality,
			RowReference: fmt.Sprintf("%s mun=%d zone=%d party=%d",
				vote.State, vote.MunicipalityCode, vote.Zone, vote.PartyNumber),
			Field:   "party_abbr",
			Message: "party abbreviation is empty",
		})
	}
}

// enrich asks the suggester for fixes on the first issues. Best-effort:
// failures only log.
func (v *Validator) enrich(ctx context.Context, job *domain.ImportJob, issues []domain.ValidationIssue) {
	limit := v.cfg.MaxSuggestions
	if limit <= 0 || len(issues) == 0 {
		return
	}
	if limit > len(issues) {
		limit = len(issues)
	}
	for i := 0; i < limit; i++ {
		fix, err := v.suggester.Suggest(ctx, &issues[i])
		if err != nil {
			v.log(ctx).WithError(err).Warn("Suggestion failed, continuing without one")
			continue
		}
		issues[i].SuggestedFix = fix
	}
}

// issueCollector stamps shared fields on issues as checks emit them.
type issueCollector struct {
	runID  string
	issues []domain.ValidationIssue
}

func (c *issueCollector) add(issue domain.ValidationIssue) {
	issue.ID = uuid.New().String()
	issue.RunID = c.runID
	issue.Seq = len(c.issues)
	issue.Status = domain.IssueStatusOpen
	c.issues = append(c.issues, issue)
}

func summarize(issues []domain.ValidationIssue) domain.RunSummary {
	s := domain.RunSummary{
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
	}
	for i := range issues {
		s.ByType[string(issues[i].Type)]++
		s.BySeverity[string(issues[i].Severity)]++
	}
	return s
}

func zoneKeyLess(a, b repository.ZoneTotal) bool {
	if a.State != b.State {
		return a.State < b.State
	}
	if a.MunicipalityCode != b.MunicipalityCode {
		return a.MunicipalityCode < b.MunicipalityCode
	}
	if a.Zone != b.Zone {
		return a.Zone < b.Zone
	}
	return a.OfficeCode < b.OfficeCode
}

func zoneRef(t repository.ZoneTotal) string {
	return fmt.Sprintf("%s mun=%d zone=%d office=%d", t.State, t.MunicipalityCode, t.Zone, t.OfficeCode)
}

func candidateRef(vote *domain.CandidateVote) string {
	return fmt.Sprintf("%s mun=%d zone=%d office=%d number=%d",
		vote.State, vote.MunicipalityCode, vote.Zone, vote.OfficeCode, vote.CandidateNumber)
}

func statsRef(s *domain.ElectionStats) string {
	return fmt.Sprintf("%s mun=%d zone=%d office=%d", s.State, s.MunicipalityCode, s.Zone, s.OfficeCode)
}

func sortCandidateVotes(votes []domain.CandidateVote) {
	sort.Slice(votes, func(i, j int) bool {
		a, b := votes[i], votes[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.MunicipalityCode != b.MunicipalityCode {
			return a.MunicipalityCode < b.MunicipalityCode
		}
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		if a.OfficeCode != b.OfficeCode {
			return a.OfficeCode < b.OfficeCode
		}
		return a.CandidateNumber < b.CandidateNumber
	})
}

func sortStats(stats []domain.ElectionStats) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.MunicipalityCode != b.MunicipalityCode {
			return a.MunicipalityCode < b.MunicipalityCode
		}
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		return a.OfficeCode < b.OfficeCode
	})
}
