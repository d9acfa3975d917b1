package montage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/strikelab/hitreel-api/internal/media"
)

// Static errors for montage assembly.
var (
	// ErrEmptySelection is returned when there are no segments to assemble.
	ErrEmptySelection = errors.New("no segments selected")
	// ErrIncompatibleStreams is returned when segments cannot be
	// concatenated without re-encoding and re-encoding is not allowed.
	ErrIncompatibleStreams = errors.New("segments have incompatible streams")
)

// Spec describes one assembly request.
type Spec struct {
	// SegmentPaths are the clip files to join, in output order.
	SegmentPaths []string
	// OutputPath is where the joined file is written.
	OutputPath string
	// AllowReencode permits falling back to re-encoding when the clips
	// cannot be concatenated by stream copy.
	AllowReencode bool
}

// AssembleResult reports how an assembly run finished.
type AssembleResult struct {
	OutputPath string
	Duration   float64
	// Reencoded is true when the output was produced by re-encoding
	// rather than stream copy.
	Reencoded bool
}

// Assembler joins extracted segments into a single video file.
type Assembler interface {
	Assemble(ctx context.Context, spec Spec) (*AssembleResult, error)
}

// ConcatAssembler implements Assembler with ffmpeg's concat demuxer,
// preferring lossless stream copy and re-encoding only when needed.
type ConcatAssembler struct {
	processor media.Processor
	prober    media.Prober
	logger    *slog.Logger
}

// NewConcatAssembler creates a new ConcatAssembler. A nil logger falls
// back to slog.Default().
func NewConcatAssembler(processor media.Processor, prober media.Prober, logger *slog.Logger) *ConcatAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConcatAssembler{
		processor: processor,
		prober:    prober,
		logger:    logger,
	}
}

// Assemble implements Assembler.Assemble. A single segment is copied to
// the output without invoking ffmpeg.
func (a *ConcatAssembler) Assemble(ctx context.Context, spec Spec) (*AssembleResult, error) {
	if len(spec.SegmentPaths) == 0 {
		return nil, ErrEmptySelection
	}

	if len(spec.SegmentPaths) == 1 {
		if err := copyFile(spec.SegmentPaths[0], spec.OutputPath); err != nil {
			return nil, fmt.Errorf("copy single segment: %w", err)
		}
		return a.finish(ctx, spec.OutputPath, false)
	}

	reason, err := a.incompatibility(ctx, spec.SegmentPaths)
	if err != nil {
		return nil, err
	}

	reencode := false
	if reason != "" {
		if !spec.AllowReencode {
			return nil, fmt.Errorf("%w: %s", ErrIncompatibleStreams, reason)
		}
		a.logger.Info("segments need re-encoding", slog.String("reason", reason))
		reencode = true
	}

	err = a.processor.Concat(ctx, spec.SegmentPaths, spec.OutputPath, reencode)
	if err != nil && !reencode && spec.AllowReencode && ctx.Err() == nil {
		// The probe check cannot catch everything the demuxer rejects,
		// for example mismatched timebases.
		a.logger.Warn("copy concat failed, retrying with re-encode", slog.Any("error", err))
		_ = os.Remove(spec.OutputPath)
		err = a.processor.Concat(ctx, spec.SegmentPaths, spec.OutputPath, true)
		reencode = true
	}
	if err != nil {
		_ = os.Remove(spec.OutputPath)
		return nil, fmt.Errorf("concatenate segments: %w", err)
	}

	return a.finish(ctx, spec.OutputPath, reencode)
}

// incompatibility probes every segment and reports why they cannot be
// concatenated by stream copy, or "" when they can.
func (a *ConcatAssembler) incompatibility(ctx context.Context, paths []string) (string, error) {
	first, err := a.prober.Probe(ctx, paths[0])
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", paths[0], err)
	}

	for _, path := range paths[1:] {
		info, err := a.prober.Probe(ctx, path)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", path, err)
		}

		if info.VideoCodec != first.VideoCodec {
			return fmt.Sprintf("video codec %s vs %s", first.VideoCodec, info.VideoCodec), nil
		}
		if info.Width != first.Width || info.Height != first.Height {
			return fmt.Sprintf("resolution %s vs %s", first.Resolution, info.Resolution), nil
		}
		if info.HasAudio() != first.HasAudio() {
			return "mixed audio presence", nil
		}
		if info.HasAudio() && info.Audio.Codec != first.Audio.Codec {
			return fmt.Sprintf("audio codec %s vs %s", first.Audio.Codec, info.Audio.Codec), nil
		}
	}
	return "", nil
}

// finish probes the assembled output for its duration. A probe failure
// is logged but does not fail the assembly.
func (a *ConcatAssembler) finish(ctx context.Context, outputPath string, reencoded bool) (*AssembleResult, error) {
	result := &AssembleResult{OutputPath: outputPath, Reencoded: reencoded}

	info, err := a.prober.Probe(ctx, outputPath)
	if err != nil {
		a.logger.Warn("probe of assembled output failed",
			slog.String("path", outputPath),
			slog.Any("error", err),
		)
		return result, nil
	}
	result.Duration = info.DurationSeconds
	return result, nil
}

// copyFile streams src to dst without loading the file into memory.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - dst is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy file contents: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination file: %w", err)
	}
	return nil
}
