// Package storage provides upload and output file storage.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for upload and output file storage.
// Uploads are scratch files that live for the duration of a job; outputs
// are the montage and segment files kept for download, optionally
// mirrored to S3.
type Storage interface {
	// SaveUpload writes an uploaded video to the upload directory and
	// returns the file path. The name parameter is used as a hint for
	// the filename; its extension is preserved.
	SaveUpload(ctx context.Context, name string, data io.Reader) (path string, err error)

	// OutputRoot returns the directory finished outputs are written to.
	OutputRoot() string

	// OutputPathFor returns the path a new output file with the given
	// name should be written to.
	OutputPathFor(filename string) string

	// ResolveOutput maps a bare output filename to its path on disk.
	// It returns ErrInvalidName for names that could escape the output
	// directory and fs.ErrNotExist when no such output exists.
	ResolveOutput(filename string) (string, error)

	// Cleanup removes the specified files.
	// It continues cleanup even if some files fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
