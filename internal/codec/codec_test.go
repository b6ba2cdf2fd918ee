package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/rcoelho/apura/internal/domain"
)

// candRow builds a candidate-vote row with sane defaults, applying
// per-column overrides.
func candRow(overrides map[int]string) string {
	fields := make([]string, candFieldCount)
	for i := range fields {
		fields[i] = "#NULO#"
	}
	fields[colYear] = "2022"
	fields[colRound] = "1"
	fields[colElectionCode] = "546"
	fields[colState] = "SP"
	fields[colMunCode] = "71072"
	fields[colMunName] = "SÃO PAULO"
	fields[colZone] = "1"
	fields[colOfficeCode] = "6"
	fields[colOfficeName] = "DEPUTADO FEDERAL"
	fields[colCandNumber] = "1234"
	fields[colCandName] = "FULANO DE TAL"
	fields[colCandParty] = "12"
	fields[colCandPartyAb] = "PDT"
	fields[colCandTransit] = "N"
	fields[colCandVotes] = "1500"
	for i, v := range overrides {
		fields[i] = v
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, ";")
}

func TestSplitRow(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "quoted fields",
			line: `"2022";"SP";"1500"`,
			want: []string{"2022", "SP", "1500"},
		},
		{
			name: "unquoted fields",
			line: `2022;SP;1500`,
			want: []string{"2022", "SP", "1500"},
		},
		{
			name: "empty field",
			line: `"2022";"";"1500"`,
			want: []string{"2022", "", "1500"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitRow(tc.line)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d fields, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("field %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestCountRows(t *testing.T) {
	input := "HEADER;COLS\nrow1\nrow2\n\nrow3\n"
	got, err := CountRows(strings.NewReader(input))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if got != 3 {
		t.Errorf("got %d rows, want 3", got)
	}

	// header only
	got, err = CountRows(strings.NewReader("HEADER;COLS\n"))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if got != 0 {
		t.Errorf("got %d rows, want 0", got)
	}
}

func TestRowScannerSkipsHeader(t *testing.T) {
	input := "HEADER;COLS\nrow1\n\nrow2\n"
	s := NewRowScanner(strings.NewReader(input))

	var rows []string
	for s.Scan() {
		rows = append(rows, s.Text())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	if len(rows) != 2 || rows[0] != "row1" || rows[1] != "row2" {
		t.Errorf("got rows %v, want [row1 row2]", rows)
	}
}

func TestDecodeCandidateVote(t *testing.T) {
	dec, err := NewDecoder(domain.FamilyCandidateVotes, domain.ImportFilters{}, "job-1")
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	rec, err := dec.Decode(candRow(nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cv, ok := rec.(*domain.CandidateVote)
	if !ok {
		t.Fatalf("got %T, want *domain.CandidateVote", rec)
	}
	if cv.Year != 2022 || cv.State != "SP" || cv.CandidateNumber != 1234 || cv.Votes != 1500 {
		t.Errorf("unexpected record: %+v", cv)
	}
	if cv.TransitVote {
		t.Error("transit flag should be false for N")
	}
	if cv.JobID != "job-1" {
		t.Errorf("job id not stamped: %q", cv.JobID)
	}
}

func TestDecodeCandidateVoteErrors(t *testing.T) {
	dec, _ := NewDecoder(domain.FamilyCandidateVotes, domain.ImportFilters{}, "job-1")

	tests := []struct {
		name string
		line string
	}{
		{"truncated row", `"2022";"SP"`},
		{"negative votes", candRow(map[int]string{colCandVotes: "-5"})},
		{"non-numeric votes", candRow(map[int]string{colCandVotes: "abc"})},
		{"missing candidate number", candRow(map[int]string{colCandNumber: "#NULO#"})},
		{"bad state code", candRow(map[int]string{colState: "XYZ"})},
		{"missing year", candRow(map[int]string{colYear: "#NULO#"})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := dec.Decode(tc.line); err == nil {
				t.Error("expected decode error, got nil")
			}
		})
	}
}

func TestDecodeFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters domain.ImportFilters
		wantErr bool
	}{
		{"no filters", domain.ImportFilters{}, false},
		{"matching year", domain.ImportFilters{Year: 2022}, false},
		{"other year", domain.ImportFilters{Year: 2018}, true},
		{"matching state", domain.ImportFilters{State: "SP"}, false},
		{"other state", domain.ImportFilters{State: "RJ"}, true},
		{"other position", domain.ImportFilters{PositionCode: 3}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dec, _ := NewDecoder(domain.FamilyCandidateVotes, tc.filters, "job-1")
			_, err := dec.Decode(candRow(nil))
			if tc.wantErr {
				if !errors.Is(err, ErrFiltered) {
					t.Errorf("got %v, want ErrFiltered", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodePartyVote(t *testing.T) {
	fields := make([]string, partyFieldCount)
	for i := range fields {
		fields[i] = ""
	}
	fields[colYear] = "2022"
	fields[colRound] = "2"
	fields[colElectionCode] = "545"
	fields[colState] = "RJ"
	fields[colMunCode] = "60011"
	fields[colZone] = "10"
	fields[colOfficeCode] = "1"
	fields[colPartyNumber] = "45"
	fields[colPartyAbbr] = "PSDB"
	fields[colPartyName] = "Partido da Social Democracia Brasileira"
	fields[colPartyTransit] = "S"
	fields[colPartyNominal] = "100"
	fields[colPartyList] = "40"
	line := strings.Join(fields, ";")

	dec, _ := NewDecoder(domain.FamilyPartyVotes, domain.ImportFilters{}, "job-2")
	rec, err := dec.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pv, ok := rec.(*domain.PartyVote)
	if !ok {
		t.Fatalf("got %T, want *domain.PartyVote", rec)
	}
	if pv.PartyNumber != 45 || pv.NominalVotes != 100 || pv.ListVotes != 40 {
		t.Errorf("unexpected record: %+v", pv)
	}
	if !pv.TransitVote {
		t.Error("transit flag should be true for S")
	}
}

func TestDecodeElectionStats(t *testing.T) {
	fields := make([]string, statFieldCount)
	for i := range fields {
		fields[i] = ""
	}
	fields[colYear] = "2022"
	fields[colRound] = "1"
	fields[colElectionCode] = "546"
	fields[colState] = "MG"
	fields[colMunCode] = "41238"
	fields[colZone] = "25"
	fields[colOfficeCode] = "7"
	fields[colStatEligible] = "10000"
	fields[colStatAttendance] = "8000"
	fields[colStatAbstention] = "2000"
	fields[colStatTransit] = "N"
	fields[colStatNominal] = "7000"
	fields[colStatList] = "300"
	fields[colStatBlank] = "400"
	fields[colStatNull] = "300"
	fields[colStatValid] = "7300"
	fields[colStatTotal] = "8000"
	line := strings.Join(fields, ";")

	dec, _ := NewDecoder(domain.FamilyElectionStats, domain.ImportFilters{}, "job-3")
	rec, err := dec.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	st, ok := rec.(*domain.ElectionStats)
	if !ok {
		t.Fatalf("got %T, want *domain.ElectionStats", rec)
	}
	if st.Eligible != 10000 || st.Abstentions != 2000 || st.TotalVotes != 8000 {
		t.Errorf("unexpected record: %+v", st)
	}
}

func TestNewDecoderUnknownFamily(t *testing.T) {
	if _, err := NewDecoder(domain.RecordFamily("bogus"), domain.ImportFilters{}, "j"); err == nil {
		t.Error("expected error for unknown family")
	}
}
