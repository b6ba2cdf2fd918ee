package storage

import (
	"context"
	"io"
)

// ObjectStorage is the retention store for acquired source files. Raw
// archives are kept keyed by job id so a failed import can be re-run
// without re-downloading.
type ObjectStorage interface {
	// Upload stores an object.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download retrieves an object.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
