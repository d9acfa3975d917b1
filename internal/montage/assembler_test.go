package montage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/strikelab/hitreel-api/internal/media"
)

// fakeProber implements media.Prober for tests. Without an override it
// reports a uniform h264/aac file.
type fakeProber struct {
	mu      sync.Mutex
	probes  []string
	probeFn func(ctx context.Context, path string) (*media.Info, error)
}

var _ media.Prober = (*fakeProber)(nil)

func (f *fakeProber) Probe(ctx context.Context, path string) (*media.Info, error) {
	f.mu.Lock()
	f.probes = append(f.probes, path)
	f.mu.Unlock()

	if f.probeFn != nil {
		return f.probeFn(ctx, path)
	}
	return &media.Info{
		VideoCodec:      "h264",
		Width:           1920,
		Height:          1080,
		Resolution:      "1920x1080",
		DurationSeconds: 2.0,
		Audio:           &media.AudioInfo{Codec: "aac"},
	}, nil
}

// writeSegmentFiles creates dummy clip files and returns their paths.
func writeSegmentFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("segment data "+name), 0o600); err != nil {
			t.Fatalf("failed to write segment file: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestConcatAssembler_EmptySelection(t *testing.T) {
	assembler := NewConcatAssembler(&fakeProcessor{}, &fakeProber{}, testLogger())

	_, err := assembler.Assemble(context.Background(), Spec{})
	if !errors.Is(err, ErrEmptySelection) {
		t.Errorf("expected ErrEmptySelection, got %v", err)
	}
}

func TestConcatAssembler_SingleSegmentIsCopied(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "only.mp4")
	output := filepath.Join(tmpDir, "montage.mp4")

	processor := &fakeProcessor{}
	assembler := NewConcatAssembler(processor, &fakeProber{}, testLogger())

	result, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths: paths,
		OutputPath:   output,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	content, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output was not written: %v", err)
	}
	if string(content) != "segment data only.mp4" {
		t.Errorf("output content mismatch: %q", content)
	}

	if result.Reencoded {
		t.Error("single segment copy should not be flagged as re-encoded")
	}
	if result.Duration != 2.0 {
		t.Errorf("Duration: got %f, want 2.0", result.Duration)
	}
	if len(processor.concatCalls()) != 0 {
		t.Error("single segment should not invoke concat")
	}
}

func TestConcatAssembler_CompatibleSegmentsCopyConcat(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")
	output := filepath.Join(tmpDir, "montage.mp4")

	processor := &fakeProcessor{}
	assembler := NewConcatAssembler(processor, &fakeProber{}, testLogger())

	result, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths: paths,
		OutputPath:   output,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if result.Reencoded {
		t.Error("compatible segments should concatenate by stream copy")
	}

	calls := processor.concatCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 concat call, got %d", len(calls))
	}
	if calls[0].reencode {
		t.Error("expected copy concat, got re-encode")
	}
	if len(calls[0].inputs) != 2 {
		t.Errorf("expected 2 inputs, got %d", len(calls[0].inputs))
	}
}

// mixedCodecProbe reports the second clip with a different video codec.
func mixedCodecProbe(second string) func(ctx context.Context, path string) (*media.Info, error) {
	return func(_ context.Context, path string) (*media.Info, error) {
		codec := "h264"
		if path == second {
			codec = "mpeg4"
		}
		return &media.Info{
			VideoCodec:      codec,
			Width:           1920,
			Height:          1080,
			Resolution:      "1920x1080",
			DurationSeconds: 2.0,
			Audio:           &media.AudioInfo{Codec: "aac"},
		}, nil
	}
}

func TestConcatAssembler_IncompatibleStreamsRejected(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")

	processor := &fakeProcessor{}
	prober := &fakeProber{probeFn: mixedCodecProbe(paths[1])}
	assembler := NewConcatAssembler(processor, prober, testLogger())

	_, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths: paths,
		OutputPath:   filepath.Join(tmpDir, "montage.mp4"),
	})
	if !errors.Is(err, ErrIncompatibleStreams) {
		t.Fatalf("expected ErrIncompatibleStreams, got %v", err)
	}
	if !strings.Contains(err.Error(), "video codec") {
		t.Errorf("error should name the mismatch, got %q", err.Error())
	}
	if len(processor.concatCalls()) != 0 {
		t.Error("concat should not run for rejected streams")
	}
}

func TestConcatAssembler_IncompatibleStreamsReencode(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")

	processor := &fakeProcessor{}
	prober := &fakeProber{probeFn: mixedCodecProbe(paths[1])}
	assembler := NewConcatAssembler(processor, prober, testLogger())

	result, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths:  paths,
		OutputPath:    filepath.Join(tmpDir, "montage.mp4"),
		AllowReencode: true,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !result.Reencoded {
		t.Error("expected re-encoded result")
	}

	calls := processor.concatCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 concat call, got %d", len(calls))
	}
	if !calls[0].reencode {
		t.Error("expected re-encode concat")
	}
}

func TestConcatAssembler_CopyFailureFallsBackToReencode(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")
	output := filepath.Join(tmpDir, "montage.mp4")

	processor := &fakeProcessor{
		concatFn: func(_ context.Context, _ []string, out string, reencode bool) error {
			if !reencode {
				return errors.New("timebase mismatch")
			}
			return os.WriteFile(out, []byte("joined data"), 0o600)
		},
	}
	assembler := NewConcatAssembler(processor, &fakeProber{}, testLogger())

	result, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths:  paths,
		OutputPath:    output,
		AllowReencode: true,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !result.Reencoded {
		t.Error("fallback result should be flagged as re-encoded")
	}

	calls := processor.concatCalls()
	if len(calls) != 2 {
		t.Fatalf("expected copy attempt then re-encode, got %d calls", len(calls))
	}
	if calls[0].reencode || !calls[1].reencode {
		t.Errorf("unexpected call order: %v then %v", calls[0].reencode, calls[1].reencode)
	}
}

func TestConcatAssembler_CopyFailureWithoutFallback(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")

	processor := &fakeProcessor{
		concatFn: func(_ context.Context, _ []string, _ string, _ bool) error {
			return errors.New("timebase mismatch")
		},
	}
	assembler := NewConcatAssembler(processor, &fakeProber{}, testLogger())

	_, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths: paths,
		OutputPath:   filepath.Join(tmpDir, "montage.mp4"),
	})
	if err == nil {
		t.Fatal("expected error when copy concat fails and re-encoding is not allowed")
	}
	if errors.Is(err, ErrIncompatibleStreams) {
		t.Errorf("a concat failure is not an incompatibility rejection: %v", err)
	}
	if len(processor.concatCalls()) != 1 {
		t.Errorf("expected a single concat attempt, got %d", len(processor.concatCalls()))
	}
}

func TestConcatAssembler_ProbeFailureAborts(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeSegmentFiles(t, tmpDir, "a.mp4", "b.mp4")

	prober := &fakeProber{
		probeFn: func(_ context.Context, path string) (*media.Info, error) {
			return nil, errors.New("unreadable file")
		},
	}
	assembler := NewConcatAssembler(&fakeProcessor{}, prober, testLogger())

	_, err := assembler.Assemble(context.Background(), Spec{
		SegmentPaths: paths,
		OutputPath:   filepath.Join(tmpDir, "montage.mp4"),
	})
	if err == nil {
		t.Fatal("expected probe failure to abort assembly")
	}
	if !strings.Contains(err.Error(), "unreadable file") {
		t.Errorf("error should carry the probe cause, got %q", err.Error())
	}
}

func TestCopyFile(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.mp4")
	dst := filepath.Join(tmpDir, "dst.mp4")

	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile failed: %v", err)
	}

	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read destination: %v", err)
	}
	if string(content) != "payload" {
		t.Errorf("content mismatch: %q", content)
	}

	if err := copyFile(filepath.Join(tmpDir, "missing.mp4"), dst); err == nil {
		t.Error("expected error for missing source")
	}
}
