package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/domain"
	"github.com/rcoelho/apura/internal/logger"
	"github.com/rcoelho/apura/internal/storage"
)

// Acquirer resolves a job's source descriptor to a local data file,
// downloading and extracting as needed. Downloads retry transient
// failures with backoff; corrupt archives and client errors are fatal.
type Acquirer struct {
	client  *resty.Client
	workDir string
	store   storage.ObjectStorage
	logger  *logger.Logger
}

// NewAcquirer creates an Acquirer.
// Parameters:
//   - cfg: acquisition configuration (work dir, retry policy, timeout).
//   - store: optional object storage for raw file retention; may be nil.
//   - log: logger instance.
// Returns:
//   - *Acquirer: acquirer instance.
func NewAcquirer(cfg *config.AcquisitionConfig, store storage.ObjectStorage, log *logger.Logger) *Acquirer {
	client := resty.New().
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetTimeout(cfg.Timeout).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	return &Acquirer{
		client:  client,
		workDir: cfg.WorkDir,
		store:   store,
		logger:  log,
	}
}

func (a *Acquirer) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return a.logger
}

// Acquire resolves a descriptor to local files.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - desc: source descriptor of the job.
//   - jobID: owning job, used to namespace the work directory.
//   - onProgress: byte progress callback; may be nil.
// Returns:
//   - *Acquired: local paths and archive listing; DataPath is empty and
//     ArchiveFiles populated when a file selection is still required.
//   - error: *SelectionRequiredError when disambiguation is needed,
//     *FatalError for non-retryable failures, otherwise transient.
func (a *Acquirer) Acquire(ctx context.Context, desc Descriptor, jobID string, onProgress Progress) (*Acquired, error) {
	if err := desc.Validate(); err != nil {
		return nil, &FatalError{Err: err}
	}

	jobDir := filepath.Join(a.workDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("failed to create work directory: %w", err)}
	}

	var rawPath string
	switch desc.Kind {
	case domain.SourceKindUpload:
		rawPath = desc.LocalPath
	case domain.SourceKindURL:
		var err error
		rawPath, err = a.download(ctx, desc, jobDir, onProgress)
		if err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(rawPath)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("acquired file not readable: %w", err)}
	}

	acquired := &Acquired{RawPath: rawPath, Size: info.Size()}

	if a.store != nil {
		a.retain(ctx, jobID, desc.Name, rawPath, info.Size())
	}

	if !isArchive(rawPath) {
		acquired.DataPath = rawPath
		return acquired, nil
	}

	entries, err := ListArchive(rawPath)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("corrupt archive: %w", err)}
	}
	acquired.ArchiveFiles = entries

	selected, ok := PickNationalFile(entries)
	if !ok {
		return acquired, &SelectionRequiredError{Files: entries}
	}

	dataPath, err := ExtractEntry(rawPath, selected.Path, jobDir)
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	acquired.DataPath = dataPath
	return acquired, nil
}

// Select completes a previously paused acquisition by extracting the
// caller-chosen archive entry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rawPath: local path of the acquired archive.
//   - entryPath: archive entry chosen by the caller.
//   - jobID: owning job, used to namespace the work directory.
// Returns:
//   - string: local path of the extracted data file.
//   - error: non-nil if the entry is missing or extraction fails.
func (a *Acquirer) Select(ctx context.Context, rawPath, entryPath, jobID string) (string, error) {
	jobDir := filepath.Join(a.workDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	path, err := ExtractEntry(rawPath, entryPath, jobDir)
	if err != nil {
		return "", err
	}
	a.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: jobID,
		"entry":           entryPath,
	}).Info("Archive entry selected")
	return path, nil
}

func (a *Acquirer) download(ctx context.Context, desc Descriptor, jobDir string, onProgress Progress) (string, error) {
	name := desc.Name
	if name == "" {
		name = filepath.Base(desc.URL)
	}
	destPath := filepath.Join(jobDir, name)

	a.log(ctx).WithFields(logger.Fields{
		logger.FieldSource: desc.URL,
	}).Info("Starting download")

	resp, err := a.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(desc.URL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		err := fmt.Errorf("download failed: status %d", resp.StatusCode())
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
			return "", &FatalError{Err: err}
		}
		return "", err
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("failed to create destination file: %w", err)}
	}
	defer dest.Close()

	counter := &countingWriter{onProgress: onProgress}
	if _, err := io.Copy(io.MultiWriter(dest, counter), body); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("download interrupted: %w", err)
	}

	a.log(ctx).WithField(logger.FieldSize, counter.written).Info("Download completed")

	return destPath, nil
}

// retain uploads the raw acquired file to object storage. Failures are
// logged and swallowed; retention is not part of the import contract.
func (a *Acquirer) retain(ctx context.Context, jobID, name, path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		a.log(ctx).WithError(err).Warn("Failed to open file for retention")
		return
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s", jobID, filepath.Base(name))
	if err := a.store.Upload(ctx, key, f, size, "application/octet-stream"); err != nil {
		a.log(ctx).WithError(err).Warn("Failed to retain source file in object storage")
		return
	}
	a.log(ctx).WithField("storage_key", key).Debug("Source file retained")
}

// countingWriter reports cumulative bytes written through a Progress
// callback, throttled to whole-MiB increments to keep update traffic low.
type countingWriter struct {
	written    int64
	reported   int64
	onProgress Progress
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.onProgress != nil && w.written-w.reported >= 1<<20 {
		w.reported = w.written
		w.onProgress(w.written)
	}
	return len(p), nil
}

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
