package domain

import "time"

// The three record families mirror the government result file layouts.
// Each carries the natural composite key of its source domain as a unique
// index so that batch reprocessing and parallel batch writers can insert
// with ignore-on-conflict semantics and never duplicate a row.

// CandidateVote is one per-candidate vote total for a municipality/zone.
type CandidateVote struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	Year             int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"year"`
	ElectionCode     int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"election_code"`
	Round            int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"round"`
	State            string `gorm:"type:text;not null;uniqueIndex:idx_candidate_votes_key" json:"state"`
	MunicipalityCode int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"municipality_code"`
	Zone             int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"zone"`
	OfficeCode       int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"office_code"`
	CandidateNumber  int    `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"candidate_number"`
	TransitVote      bool   `gorm:"not null;uniqueIndex:idx_candidate_votes_key" json:"transit_vote"`

	MunicipalityName string `gorm:"type:text" json:"municipality_name"`
	OfficeName       string `gorm:"type:text" json:"office_name"`
	CandidateName    string `gorm:"type:text" json:"candidate_name"`
	PartyNumber      int    `json:"party_number"`
	PartyAbbr        string `gorm:"type:text" json:"party_abbr"`
	Votes            int64  `json:"votes"`

	JobID     string    `gorm:"type:text;index" json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for CandidateVote.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (CandidateVote) TableName() string {
	return "candidate_votes"
}

// PartyVote is one per-party vote total (nominal + list) for a
// municipality/zone.
type PartyVote struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	Year             int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"year"`
	ElectionCode     int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"election_code"`
	Round            int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"round"`
	State            string `gorm:"type:text;not null;uniqueIndex:idx_party_votes_key" json:"state"`
	MunicipalityCode int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"municipality_code"`
	Zone             int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"zone"`
	OfficeCode       int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"office_code"`
	PartyNumber      int    `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"party_number"`
	TransitVote      bool   `gorm:"not null;uniqueIndex:idx_party_votes_key" json:"transit_vote"`

	MunicipalityName string `gorm:"type:text" json:"municipality_name"`
	OfficeName       string `gorm:"type:text" json:"office_name"`
	PartyAbbr        string `gorm:"type:text" json:"party_abbr"`
	PartyName        string `gorm:"type:text" json:"party_name"`
	NominalVotes     int64  `json:"nominal_votes"`
	ListVotes        int64  `json:"list_votes"`

	JobID     string    `gorm:"type:text;index" json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PartyVote.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (PartyVote) TableName() string {
	return "party_votes"
}

// ElectionStats is the declared turnout/abstention/vote breakdown for a
// municipality/zone/office, used by validation to cross-foot totals.
type ElectionStats struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	Year             int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"year"`
	ElectionCode     int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"election_code"`
	Round            int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"round"`
	State            string `gorm:"type:text;not null;uniqueIndex:idx_election_stats_key" json:"state"`
	MunicipalityCode int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"municipality_code"`
	Zone             int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"zone"`
	OfficeCode       int    `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"office_code"`
	TransitVote      bool   `gorm:"not null;uniqueIndex:idx_election_stats_key" json:"transit_vote"`

	MunicipalityName string `gorm:"type:text" json:"municipality_name"`
	OfficeName       string `gorm:"type:text" json:"office_name"`
	Eligible         int64  `json:"eligible"`
	Attendance       int64  `json:"attendance"`
	Abstentions      int64  `json:"abstentions"`
	NominalVotes     int64  `json:"nominal_votes"`
	ListVotes        int64  `json:"list_votes"`
	BlankVotes       int64  `json:"blank_votes"`
	NullVotes        int64  `json:"null_votes"`
	ValidVotes       int64  `json:"valid_votes"`
	TotalVotes       int64  `json:"total_votes"`

	JobID     string    `gorm:"type:text;index" json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ElectionStats.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ElectionStats) TableName() string {
	return "election_stats"
}
