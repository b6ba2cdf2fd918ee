package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Government result exports are semicolon-delimited, double-quoted,
// Latin-1 encoded, with a single header line. The codec is the only place
// raw text is interpreted; everything downstream works on typed records.

var (
	// ErrFieldCount is returned when a row has fewer columns than its
	// family layout requires.
	ErrFieldCount = errors.New("unexpected field count")

	// ErrFiltered marks a row excluded by the job's import filters.
	// It is a skip, not a failure.
	ErrFiltered = errors.New("row excluded by import filters")
)

// missing sentinel values used by the source files.
const (
	nullMarker     = "#NULO#"
	notAppMarker   = "#NE#"
	transitMarkerY = "S"
)

// NewLatin1Reader wraps r so that reads yield UTF-8 text.
// Parameters:
//   - r: raw Latin-1 byte stream.
// Returns:
//   - io.Reader: transcoding reader.
func NewLatin1Reader(r io.Reader) io.Reader {
	return charmap.ISO8859_1.NewDecoder().Reader(r)
}

// SplitRow splits one delimited line into unquoted fields.
// Parameters:
//   - line: raw row text without the trailing newline.
// Returns:
//   - []string: field values with surrounding quotes removed.
func SplitRow(line string) []string {
	parts := strings.Split(line, ";")
	fields := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, `"`)
		p = strings.TrimSuffix(p, `"`)
		fields[i] = p
	}
	return fields
}

// CountRows counts data rows in a result file, excluding the header.
// Parameters:
//   - r: raw Latin-1 byte stream positioned at the start of the file.
// Returns:
//   - int64: number of data rows.
//   - error: non-nil if reading fails.
func CountRows(r io.Reader) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var count int64 = -1 // header
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// NewRowScanner returns a scanner over data rows, transcoding from Latin-1
// and skipping the header line and blank lines.
// Parameters:
//   - r: raw Latin-1 byte stream positioned at the start of the file.
// Returns:
//   - *RowScanner: scanner yielding raw data rows in file order.
func NewRowScanner(r io.Reader) *RowScanner {
	scanner := bufio.NewScanner(NewLatin1Reader(r))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &RowScanner{scanner: scanner}
}

// RowScanner iterates data rows of a result file. Row indexes are 0-based
// and exclude the header.
type RowScanner struct {
	scanner *bufio.Scanner
	started bool
	line    string
}

// Scan advances to the next data row.
// Parameters: none.
// Returns:
//   - bool: false when the input is exhausted or a read error occurred.
func (s *RowScanner) Scan() bool {
	for s.scanner.Scan() {
		text := s.scanner.Text()
		if len(strings.TrimSpace(text)) == 0 {
			continue
		}
		if !s.started {
			// header
			s.started = true
			continue
		}
		s.line = text
		return true
	}
	return false
}

// Text returns the current raw data row.
// Parameters: none.
// Returns:
//   - string: row text without the trailing newline.
func (s *RowScanner) Text() string {
	return s.line
}

// Err returns the first error encountered while scanning.
// Parameters: none.
// Returns:
//   - error: non-nil if the underlying read failed.
func (s *RowScanner) Err() error {
	return s.scanner.Err()
}

// field accessors shared by the family decoders

func fieldAt(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	v := fields[idx]
	if v == nullMarker || v == notAppMarker {
		return ""
	}
	return v
}

func intAt(fields []string, idx int, name string) (int, error) {
	v := fieldAt(fields, idx)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %q is not an integer", name, v)
	}
	return n, nil
}

func int64At(fields []string, idx int, name string) (int64, error) {
	v := fieldAt(fields, idx)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %q is not an integer", name, v)
	}
	return n, nil
}

func boolFlagAt(fields []string, idx int) bool {
	return strings.EqualFold(fieldAt(fields, idx), transitMarkerY)
}
