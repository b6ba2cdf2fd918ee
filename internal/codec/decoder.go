package codec

import (
	"fmt"

	"github.com/rcoelho/apura/internal/domain"
)

// Column positions per family layout. The leading columns (generation
// timestamp through office description) are shared by the three files.
const (
	colYear         = 2
	colRound        = 5
	colElectionCode = 6
	colState        = 10
	colMunCode      = 12
	colMunName      = 13
	colZone         = 14
	colOfficeCode   = 15
	colOfficeName   = 16
)

const (
	// candidate vote file tail
	colCandNumber  = 17
	colCandName    = 18
	colCandParty   = 19
	colCandPartyAb = 20
	colCandTransit = 21
	colCandVotes   = 22
	candFieldCount = 23

	// party vote file tail
	colPartyNumber  = 17
	colPartyAbbr    = 18
	colPartyName    = 19
	colPartyTransit = 20
	colPartyNominal = 21
	colPartyList    = 22
	partyFieldCount = 23

	// statistics file tail
	colStatEligible   = 17
	colStatAttendance = 18
	colStatAbstention = 19
	colStatTransit    = 20
	colStatNominal    = 21
	colStatList       = 22
	colStatBlank      = 23
	colStatNull       = 24
	colStatValid      = 25
	colStatTotal      = 26
	statFieldCount    = 27
)

// Decoder converts raw rows of one record family into typed domain
// records, applying the job's import filters and the family's domain
// contract (required fields, non-negative counts) at the boundary.
type Decoder struct {
	family  domain.RecordFamily
	filters domain.ImportFilters
	jobID   string
}

// NewDecoder creates a decoder for one record family.
// Parameters:
//   - family: record family of the source file.
//   - filters: row filters recorded on the job; zero values mean none.
//   - jobID: owning job, stamped on every decoded record.
// Returns:
//   - *Decoder: decoder instance.
//   - error: non-nil if the family is unknown.
func NewDecoder(family domain.RecordFamily, filters domain.ImportFilters, jobID string) (*Decoder, error) {
	switch family {
	case domain.FamilyCandidateVotes, domain.FamilyPartyVotes, domain.FamilyElectionStats:
		return &Decoder{family: family, filters: filters, jobID: jobID}, nil
	default:
		return nil, fmt.Errorf("unknown record family %q", family)
	}
}

// Family returns the decoder's record family.
func (d *Decoder) Family() domain.RecordFamily {
	return d.family
}

// Decode parses one raw row into a typed record.
// Parameters:
//   - line: raw data row text.
// Returns:
//   - interface{}: *domain.CandidateVote, *domain.PartyVote, or
//     *domain.ElectionStats depending on family.
//   - error: ErrFiltered when excluded by filters, otherwise a parse or
//     validation failure describing the offending field.
func (d *Decoder) Decode(line string) (interface{}, error) {
	fields := SplitRow(line)
	switch d.family {
	case domain.FamilyCandidateVotes:
		return d.decodeCandidateVote(fields)
	case domain.FamilyPartyVotes:
		return d.decodePartyVote(fields)
	default:
		return d.decodeElectionStats(fields)
	}
}

type rowHeader struct {
	year         int
	round        int
	electionCode int
	state        string
	munCode      int
	munName      string
	zone         int
	officeCode   int
	officeName   string
}

func (d *Decoder) decodeHeader(fields []string) (*rowHeader, error) {
	var h rowHeader
	var err error
	if h.year, err = intAt(fields, colYear, "ANO_ELEICAO"); err != nil {
		return nil, err
	}
	if h.round, err = intAt(fields, colRound, "NR_TURNO"); err != nil {
		return nil, err
	}
	if h.electionCode, err = intAt(fields, colElectionCode, "CD_ELEICAO"); err != nil {
		return nil, err
	}
	h.state = fieldAt(fields, colState)
	if h.munCode, err = intAt(fields, colMunCode, "CD_MUNICIPIO"); err != nil {
		return nil, err
	}
	h.munName = fieldAt(fields, colMunName)
	if h.zone, err = intAt(fields, colZone, "NR_ZONA"); err != nil {
		return nil, err
	}
	if h.officeCode, err = intAt(fields, colOfficeCode, "CD_CARGO"); err != nil {
		return nil, err
	}
	h.officeName = fieldAt(fields, colOfficeName)

	if h.year <= 0 {
		return nil, fmt.Errorf("field ANO_ELEICAO: missing or non-positive")
	}
	if len(h.state) != 2 {
		return nil, fmt.Errorf("field SG_UF: %q is not a two-letter state code", h.state)
	}
	if h.zone <= 0 {
		return nil, fmt.Errorf("field NR_ZONA: missing or non-positive")
	}
	return &h, nil
}

func (d *Decoder) filtered(h *rowHeader) bool {
	if d.filters.Year != 0 && h.year != d.filters.Year {
		return true
	}
	if d.filters.State != "" && h.state != d.filters.State {
		return true
	}
	if d.filters.PositionCode != 0 && h.officeCode != d.filters.PositionCode {
		return true
	}
	return false
}

func (d *Decoder) decodeCandidateVote(fields []string) (interface{}, error) {
	if len(fields) < candFieldCount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), candFieldCount)
	}
	h, err := d.decodeHeader(fields)
	if err != nil {
		return nil, err
	}
	if d.filtered(h) {
		return nil, ErrFiltered
	}

	number, err := intAt(fields, colCandNumber, "NR_CANDIDATO")
	if err != nil {
		return nil, err
	}
	if number <= 0 {
		return nil, fmt.Errorf("field NR_CANDIDATO: missing or non-positive")
	}
	party, err := intAt(fields, colCandParty, "NR_PARTIDO")
	if err != nil {
		return nil, err
	}
	votes, err := int64At(fields, colCandVotes, "QT_VOTOS_NOMINAIS")
	if err != nil {
		return nil, err
	}
	if votes < 0 {
		return nil, fmt.Errorf("field QT_VOTOS_NOMINAIS: negative vote count %d", votes)
	}

	return &domain.CandidateVote{
		Year:             h.year,
		ElectionCode:     h.electionCode,
		Round:            h.round,
		State:            h.state,
		MunicipalityCode: h.munCode,
		MunicipalityName: h.munName,
		Zone:             h.zone,
		OfficeCode:       h.officeCode,
		OfficeName:       h.officeName,
		CandidateNumber:  number,
		CandidateName:    fieldAt(fields, colCandName),
		PartyNumber:      party,
		PartyAbbr:        fieldAt(fields, colCandPartyAb),
		TransitVote:      boolFlagAt(fields, colCandTransit),
		Votes:            votes,
		JobID:            d.jobID,
	}, nil
}

func (d *Decoder) decodePartyVote(fields []string) (interface{}, error) {
	if len(fields) < partyFieldCount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), partyFieldCount)
	}
	h, err := d.decodeHeader(fields)
	if err != nil {
		return nil, err
	}
	if d.filtered(h) {
		return nil, ErrFiltered
	}

	number, err := intAt(fields, colPartyNumber, "NR_PARTIDO")
	if err != nil {
		return nil, err
	}
	if number <= 0 {
		return nil, fmt.Errorf("field NR_PARTIDO: missing or non-positive")
	}
	nominal, err := int64At(fields, colPartyNominal, "QT_VOTOS_NOMINAIS")
	if err != nil {
		return nil, err
	}
	list, err := int64At(fields, colPartyList, "QT_VOTOS_LEGENDA")
	if err != nil {
		return nil, err
	}
	if nominal < 0 || list < 0 {
		return nil, fmt.Errorf("negative vote count: nominal=%d list=%d", nominal, list)
	}

	return &domain.PartyVote{
		Year:             h.year,
		ElectionCode:     h.electionCode,
		Round:            h.round,
		State:            h.state,
		MunicipalityCode: h.munCode,
		MunicipalityName: h.munName,
		Zone:             h.zone,
		OfficeCode:       h.officeCode,
		OfficeName:       h.officeName,
		PartyNumber:      number,
		PartyAbbr:        fieldAt(fields, colPartyAbbr),
		PartyName:        fieldAt(fields, colPartyName),
		TransitVote:      boolFlagAt(fields, colPartyTransit),
		NominalVotes:     nominal,
		ListVotes:        list,
		JobID:            d.jobID,
	}, nil
}

func (d *Decoder) decodeElectionStats(fields []string) (interface{}, error) {
	if len(fields) < statFieldCount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), statFieldCount)
	}
	h, err := d.decodeHeader(fields)
	if err != nil {
		return nil, err
	}
	if d.filtered(h) {
		return nil, ErrFiltered
	}

	stats := &domain.ElectionStats{
		Year:             h.year,
		ElectionCode:     h.electionCode,
		Round:            h.round,
		State:            h.state,
		MunicipalityCode: h.munCode,
		MunicipalityName: h.munName,
		Zone:             h.zone,
		OfficeCode:       h.officeCode,
		OfficeName:       h.officeName,
		TransitVote:      boolFlagAt(fields, colStatTransit),
		JobID:            d.jobID,
	}

	counters := []struct {
		idx  int
		name string
		dst  *int64
	}{
		{colStatEligible, "QT_APTOS", &stats.Eligible},
		{colStatAttendance, "QT_COMPARECIMENTO", &stats.Attendance},
		{colStatAbstention, "QT_ABSTENCOES", &stats.Abstentions},
		{colStatNominal, "QT_VOTOS_NOMINAIS", &stats.NominalVotes},
		{colStatList, "QT_VOTOS_LEGENDA", &stats.ListVotes},
		{colStatBlank, "QT_VOTOS_BRANCOS", &stats.BlankVotes},
		{colStatNull, "QT_VOTOS_NULOS", &stats.NullVotes},
		{colStatValid, "QT_VOTOS_VALIDOS", &stats.ValidVotes},
		{colStatTotal, "QT_TOTAL_VOTOS", &stats.TotalVotes},
	}
	for _, c := range counters {
		v, err := int64At(fields, c.idx, c.name)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("field %s: negative count %d", c.name, v)
		}
		*c.dst = v
	}

	return stats, nil
}
