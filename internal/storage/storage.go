// Package storage provides temporary and persistent file storage for uploads
// and converted results. It defines the Storage port and implementations for
// local disk and S3.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the interface for temporary and persistent file storage.
// Uploads and async results live as temp files; converted output can
// optionally be archived to S3.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name is a hint; its extension is preserved.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Sweep removes temporary files last modified before the cutoff, except
	// the paths in keep, and returns how many were removed.
	Sweep(ctx context.Context, olderThan time.Time, keep []string) (int, error)

	// UploadToS3 archives data under key with the given media type and returns
	// the object URL. Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
