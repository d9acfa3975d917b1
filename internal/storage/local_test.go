package storage

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		root := filepath.Join(os.TempDir(), "hitreel_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(root) }()

		uploadDir := filepath.Join(root, "uploads")
		outputDir := filepath.Join(root, "outputs")

		storage, err := NewLocalStorage(uploadDir, outputDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.UploadDir() != uploadDir {
			t.Errorf("UploadDir() = %v, want %v", storage.UploadDir(), uploadDir)
		}
		if storage.OutputRoot() != outputDir {
			t.Errorf("OutputRoot() = %v, want %v", storage.OutputRoot(), outputDir)
		}

		for _, dir := range []string{uploadDir, outputDir} {
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("directory not created: %v", err)
			}
			if !info.IsDir() {
				t.Errorf("expected directory at %s, got file", dir)
			}
		}
	})

	t.Run("uses default directories when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("", "")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expectedUploads := filepath.Join(os.TempDir(), "hitreel", "uploads")
		if storage.UploadDir() != expectedUploads {
			t.Errorf("UploadDir() = %v, want %v", storage.UploadDir(), expectedUploads)
		}
		expectedOutputs := filepath.Join(os.TempDir(), "hitreel", "outputs")
		if storage.OutputRoot() != expectedOutputs {
			t.Errorf("OutputRoot() = %v, want %v", storage.OutputRoot(), expectedOutputs)
		}
	})
}

func TestLocalStorage_SaveUpload(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data and keeps extension", func(t *testing.T) {
		ctx := context.Background()
		data := bytes.NewReader([]byte("video bytes"))

		path, err := storage.SaveUpload(ctx, "sparring.mp4", data)
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}

		if !strings.Contains(filepath.Base(path), "sparring_") {
			t.Errorf("path %s should contain the original stem", path)
		}
		if filepath.Ext(path) != ".mp4" {
			t.Errorf("path %s should keep the .mp4 extension", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "video bytes" {
			t.Errorf("got %q, want %q", string(content), "video bytes")
		}
	})

	t.Run("strips directories from the name", func(t *testing.T) {
		ctx := context.Background()

		path, err := storage.SaveUpload(ctx, "../../etc/passwd.mov", bytes.NewReader([]byte("data")))
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}

		if filepath.Dir(path) != storage.UploadDir() {
			t.Errorf("file %s escaped the upload directory", path)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveUpload(ctx, "test.mp4", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestUploadPattern(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"match.mp4", "match_*.mp4"},
		{"no_extension", "no_extension_*"},
		{"../evil.mp4", "evil_*.mp4"},
		{`C:\Users\clip.mov`, "clip_*.mov"},
		{".mp4", "upload_*.mp4"},
		{"", "upload_*"},
		{"..", "upload_*"},
	}

	for _, tt := range tests {
		got := uploadPattern(tt.name)
		if got != tt.want {
			t.Errorf("uploadPattern(%q): got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLocalStorage_ResolveOutput(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("resolves existing output", func(t *testing.T) {
		path := storage.OutputPathFor("montage.mp4")
		if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
			t.Fatalf("failed to write output file: %v", err)
		}

		resolved, err := storage.ResolveOutput("montage.mp4")
		if err != nil {
			t.Fatalf("ResolveOutput() error = %v", err)
		}
		if resolved != path {
			t.Errorf("got %v, want %v", resolved, path)
		}
	})

	t.Run("missing output returns not-exist", func(t *testing.T) {
		_, err := storage.ResolveOutput("missing.mp4")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist, got %v", err)
		}
	})

	t.Run("rejects traversal names", func(t *testing.T) {
		for _, name := range []string{"", ".", "..", "../montage.mp4", "a/b.mp4", `a\b.mp4`} {
			_, err := storage.ResolveOutput(name)
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("ResolveOutput(%q): expected ErrInvalidName, got %v", name, err)
			}
		}
	})
}

func TestLocalStorage_Cleanup(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveUpload(ctx, "cleanup.mp4", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveUpload() error = %v", err)
			}
			paths = append(paths, path)
		}

		if err := storage.Cleanup(ctx, paths); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := storage.Cleanup(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("Cleanup() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.Cleanup(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.UploadToS3(ctx, "key", bytes.NewReader([]byte("data")))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := filepath.Join(os.TempDir(), "hitreel_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	storage, err := NewLocalStorage(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
