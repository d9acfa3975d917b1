package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Static errors for storage operations.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidName is returned for output filenames with path
	// separators or traversal elements.
	ErrInvalidName = errors.New("invalid output filename")
)

// LocalStorage implements the Storage interface using local disk.
// It keeps uploads and outputs in separate configurable directories and
// does not support S3 operations unless wrapped with S3Storage.
type LocalStorage struct {
	uploadDir string
	outputDir string
}

// NewLocalStorage creates a new LocalStorage instance. Empty directory
// parameters fall back to subdirectories of os.TempDir(). Both
// directories are created if they don't exist.
func NewLocalStorage(uploadDir, outputDir string) (*LocalStorage, error) {
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "hitreel", "uploads")
	}
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "hitreel", "outputs")
	}

	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &LocalStorage{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// UploadDir returns the upload directory path.
func (s *LocalStorage) UploadDir() string {
	return s.uploadDir
}

// OutputRoot returns the output directory path.
func (s *LocalStorage) OutputRoot() string {
	return s.outputDir
}

// SaveUpload writes data to a uniquely named file in the upload
// directory. The original extension is kept so ffmpeg can use it as a
// format hint.
func (s *LocalStorage) SaveUpload(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.uploadDir, uploadPattern(name))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	return fileName, nil
}

// OutputPathFor returns the path a new output file should be written to.
func (s *LocalStorage) OutputPathFor(filename string) string {
	return filepath.Join(s.outputDir, filename)
}

// ResolveOutput maps a bare output filename to its path on disk.
func (s *LocalStorage) ResolveOutput(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}

	path := filepath.Join(s.outputDir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("resolve output %s: %w", filename, err)
	}
	return path, nil
}

// Cleanup removes the specified files. It continues cleanup even if some
// files fail to delete, returning the first error encountered.
func (s *LocalStorage) Cleanup(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// uploadPattern builds an os.CreateTemp pattern like "video_*.mp4" from
// an arbitrary client-supplied filename.
func uploadPattern(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == ".." || base == "/" {
		base = "upload"
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "upload"
	}
	return stem + "_*" + ext
}
