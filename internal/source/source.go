package source

import (
	"errors"
	"fmt"

	"github.com/rcoelho/apura/internal/domain"
)

// Descriptor identifies a job's input bytes: either a file already on
// local disk (upload) or a URL to download.
type Descriptor struct {
	Kind      domain.SourceKind
	Name      string // original filename
	URL       string // set for SourceKindURL
	LocalPath string // set for SourceKindUpload
}

// Validate checks the descriptor is complete for its kind.
// Parameters: none.
// Returns:
//   - error: non-nil if a required field is missing.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case domain.SourceKindUpload:
		if d.LocalPath == "" {
			return errors.New("upload descriptor missing local path")
		}
	case domain.SourceKindURL:
		if d.URL == "" {
			return errors.New("url descriptor missing url")
		}
	default:
		return fmt.Errorf("unknown source kind %q", d.Kind)
	}
	return nil
}

// ArchiveEntry is one candidate data file inside an acquired archive.
type ArchiveEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// SelectionRequiredError signals that an archive contains more than one
// candidate data file and the caller must pick one. It is a pause, not a
// failure.
type SelectionRequiredError struct {
	Files []ArchiveEntry
}

func (e *SelectionRequiredError) Error() string {
	return fmt.Sprintf("archive contains %d candidate files, selection required", len(e.Files))
}

// FatalError wraps an acquisition failure that must not be retried, such
// as a corrupt archive or a non-retryable HTTP status.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether an acquisition error is non-retryable.
// Parameters:
//   - err: error returned by Acquire.
// Returns:
//   - bool: true when the job should fail instead of retrying.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Progress receives the cumulative number of bytes fetched so far.
type Progress func(downloadedBytes int64)

// Acquired describes the outcome of resolving a descriptor.
type Acquired struct {
	// RawPath is the local path of the file as fetched (may be an archive).
	RawPath string
	// DataPath is the local path of the plain result file ready for row
	// scanning. Empty while an archive selection is pending.
	DataPath string
	// Size is the byte size of the raw file.
	Size int64
	// ArchiveFiles lists candidate entries when RawPath is an archive.
	ArchiveFiles []ArchiveEntry
}
