package repository

import (
	"context"
	"fmt"

	"github.com/rcoelho/apura/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepository handles the domain record tables. Inserts use
// ignore-on-conflict against each family's natural composite key, which is
// what makes batch reprocessing and parallel batch writers idempotent.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *RecordRepository: repository instance bound to db.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// InsertRows inserts decoded records of one family, ignoring rows whose
// composite key already exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - family: record family of the rows.
//   - rows: decoded records as produced by the codec.
// Returns:
//   - int64: number of rows actually inserted (conflicts excluded).
//   - error: non-nil if the insert fails.
func (r *RecordRepository) InsertRows(ctx context.Context, family domain.RecordFamily, rows []interface{}) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	switch family {
	case domain.FamilyCandidateVotes:
		recs := make([]domain.CandidateVote, 0, len(rows))
		for _, row := range rows {
			rec, ok := row.(*domain.CandidateVote)
			if !ok {
				return 0, fmt.Errorf("row type %T does not belong to family %s", row, family)
			}
			recs = append(recs, *rec)
		}
		return r.insertIgnore(ctx, &recs)
	case domain.FamilyPartyVotes:
		recs := make([]domain.PartyVote, 0, len(rows))
		for _, row := range rows {
			rec, ok := row.(*domain.PartyVote)
			if !ok {
				return 0, fmt.Errorf("row type %T does not belong to family %s", row, family)
			}
			recs = append(recs, *rec)
		}
		return r.insertIgnore(ctx, &recs)
	case domain.FamilyElectionStats:
		recs := make([]domain.ElectionStats, 0, len(rows))
		for _, row := range rows {
			rec, ok := row.(*domain.ElectionStats)
			if !ok {
				return 0, fmt.Errorf("row type %T does not belong to family %s", row, family)
			}
			recs = append(recs, *rec)
		}
		return r.insertIgnore(ctx, &recs)
	default:
		return 0, fmt.Errorf("unknown record family %q", family)
	}
}

func (r *RecordRepository) insertIgnore(ctx context.Context, recs interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(recs)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByJob counts rows a job has inserted into its family table.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - family: record family to count.
//   - jobID: owning job ID.
// Returns:
//   - int64: number of matching records.
//   - error: non-nil if the query fails.
func (r *RecordRepository) CountByJob(ctx context.Context, family domain.RecordFamily, jobID string) (int64, error) {
	var count int64
	model, err := familyModel(family)
	if err != nil {
		return 0, err
	}
	if err := r.db.WithContext(ctx).Model(model).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByJob removes a job's rows from its family table.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - family: record family to delete from.
//   - jobID: owning job ID.
// Returns:
//   - error: non-nil if the delete fails.
func (r *RecordRepository) DeleteByJob(ctx context.Context, family domain.RecordFamily, jobID string) error {
	model, err := familyModel(family)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(model).Error
}

func familyModel(family domain.RecordFamily) (interface{}, error) {
	switch family {
	case domain.FamilyCandidateVotes:
		return &domain.CandidateVote{}, nil
	case domain.FamilyPartyVotes:
		return &domain.PartyVote{}, nil
	case domain.FamilyElectionStats:
		return &domain.ElectionStats{}, nil
	default:
		return nil, fmt.Errorf("unknown record family %q", family)
	}
}

// ============================================
// Read-side queries used by the validation engine
// ============================================

// ZoneTotal is the summed candidate vote count for one zone/office key.
type ZoneTotal struct {
	Year             int
	ElectionCode     int
	Round            int
	State            string
	MunicipalityCode int
	Zone             int
	OfficeCode       int
	TransitVote      bool
	TotalVotes       int64
}

// CandidateZoneTotals sums a job's candidate votes per zone/office key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []ZoneTotal: summed nominal votes per key.
//   - error: non-nil if the query fails.
func (r *RecordRepository) CandidateZoneTotals(ctx context.Context, jobID string) ([]ZoneTotal, error) {
	var totals []ZoneTotal
	if err := r.db.WithContext(ctx).Model(&domain.CandidateVote{}).
		Select("year, election_code, round, state, municipality_code, zone, office_code, transit_vote, SUM(votes) AS total_votes").
		Where("job_id = ?", jobID).
		Group("year, election_code, round, state, municipality_code, zone, office_code, transit_vote").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	return totals, nil
}

// StatsForKey looks up the declared statistics row matching a zone total.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: zone/office key from a candidate vote aggregation.
// Returns:
//   - *domain.ElectionStats: matching row or nil when absent.
//   - error: non-nil if the query fails.
func (r *RecordRepository) StatsForKey(ctx context.Context, key ZoneTotal) (*domain.ElectionStats, error) {
	var stats domain.ElectionStats
	err := r.db.WithContext(ctx).
		Where("year = ? AND election_code = ? AND round = ? AND state = ? AND municipality_code = ? AND zone = ? AND office_code = ? AND transit_vote = ?",
			key.Year, key.ElectionCode, key.Round, key.State, key.MunicipalityCode, key.Zone, key.OfficeCode, key.TransitVote).
		First(&stats).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &stats, nil
}

// CandidateVotesByJob loads all candidate vote rows of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.CandidateVote: the job's rows.
//   - error: non-nil if the query fails.
func (r *RecordRepository) CandidateVotesByJob(ctx context.Context, jobID string) ([]domain.CandidateVote, error) {
	var recs []domain.CandidateVote
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// PartyVotesByJob loads all party vote rows of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.PartyVote: the job's rows.
//   - error: non-nil if the query fails.
func (r *RecordRepository) PartyVotesByJob(ctx context.Context, jobID string) ([]domain.PartyVote, error) {
	var recs []domain.PartyVote
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// StatsByJob loads all statistics rows of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.ElectionStats: the job's rows.
//   - error: non-nil if the query fails.
func (r *RecordRepository) StatsByJob(ctx context.Context, jobID string) ([]domain.ElectionStats, error) {
	var recs []domain.ElectionStats
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DuplicateKey is a natural composite key that appears more than once.
type DuplicateKey struct {
	Year             int
	State            string
	MunicipalityCode int
	Zone             int
	OfficeCode       int
	EntityNumber     int
	Occurrences      int64
}

// DuplicateCandidateKeys finds composite keys that appear on more than one
// stored row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []DuplicateKey: duplicated keys with occurrence counts.
//   - error: non-nil if the query fails.
func (r *RecordRepository) DuplicateCandidateKeys(ctx context.Context, jobID string) ([]DuplicateKey, error) {
	var dups []DuplicateKey
	if err := r.db.WithContext(ctx).Model(&domain.CandidateVote{}).
		Select("year, state, municipality_code, zone, office_code, candidate_number AS entity_number, COUNT(*) AS occurrences").
		Where("job_id = ?", jobID).
		Group("year, election_code, round, state, municipality_code, zone, office_code, candidate_number, transit_vote").
		Having("COUNT(*) > 1").
		Scan(&dups).Error; err != nil {
		return nil, err
	}
	return dups, nil
}

// KnownPartyNumbers lists distinct party numbers present in the party vote
// table for an election year, across all jobs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - year: election year.
// Returns:
//   - []int: distinct party numbers.
//   - error: non-nil if the query fails.
func (r *RecordRepository) KnownPartyNumbers(ctx context.Context, year int) ([]int, error) {
	var numbers []int
	if err := r.db.WithContext(ctx).Model(&domain.PartyVote{}).
		Where("year = ?", year).
		Distinct("party_number").
		Pluck("party_number", &numbers).Error; err != nil {
		return nil, err
	}
	return numbers, nil
}

// HasPartyVotes reports whether any party vote rows exist for a year.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - year: election year.
// Returns:
//   - bool: true when at least one row exists.
//   - error: non-nil if the query fails.
func (r *RecordRepository) HasPartyVotes(ctx context.Context, year int) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.PartyVote{}).
		Where("year = ?", year).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
