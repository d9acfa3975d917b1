package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNoInputs is returned when no input files are provided for concatenation.
	ErrNoInputs = errors.New("no input files provided")
	// ErrInvalidClipRange is returned when a clip range is empty or negative.
	ErrInvalidClipRange = errors.New("invalid clip range: end must be greater than start")
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// ExtractClip cuts the [start, end) range out of src into dst.
// Copy mode seeks to the nearest keyframe before start, so the clip can
// begin slightly early; precise mode re-encodes with libx264/aac for
// frame-accurate boundaries at the cost of speed.
func (p *FFmpegProcessor) ExtractClip(ctx context.Context, src, dst string, start, end float64, precise bool) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start=%.3f, end=%.3f", ErrInvalidClipRange, start, end)
	}

	args := []string{
		"-y", // Overwrite output file without asking
		"-ss", fmt.Sprintf("%.3f", start), // Seek before input for fast seeking
		"-t", fmt.Sprintf("%.3f", end-start), // Clip duration
		"-i", src,
	}
	if precise {
		args = append(args,
			"-c:v", "libx264", // Video codec
			"-preset", "fast", // Encoding speed preset
			"-crf", "23", // Quality (lower = better, 23 is default)
			"-c:a", "aac", // Audio codec
			"-b:a", "128k", // Audio bitrate
		)
	} else {
		args = append(args,
			"-c", "copy", // Copy streams without re-encoding
			"-avoid_negative_ts", "make_zero", // Reset timestamps so clips concatenate cleanly
		)
	}
	args = append(args, dst)

	return p.runFFmpeg(ctx, args)
}

// Concat concatenates the input files into output using the concat demuxer.
func (p *FFmpegProcessor) Concat(ctx context.Context, inputs []string, output string, reencode bool) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}

	// Create a temporary file list for the concat demuxer
	listFile, err := p.createConcatList(inputs)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	if reencode {
		return p.concatReencode(ctx, listFile, output)
	}
	return p.concatCopy(ctx, listFile, output)
}

// concatCopy concatenates using stream copy (no re-encoding).
func (p *FFmpegProcessor) concatCopy(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c", "copy", // Copy streams without re-encoding
		output, // Output file
	}
	return p.runFFmpeg(ctx, args)
}

// concatReencode concatenates by re-encoding with libx264/aac.
func (p *FFmpegProcessor) concatReencode(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c:v", "libx264", // Video codec
		"-preset", "fast", // Encoding speed preset
		"-crf", "23", // Quality (lower = better, 23 is default)
		"-c:a", "aac", // Audio codec
		"-b:a", "128k", // Audio bitrate
		output, // Output file
	}
	return p.runFFmpeg(ctx, args)
}

// createConcatList creates a temporary file containing the list of input
// files in the format required by ffmpeg's concat demuxer.
func (p *FFmpegProcessor) createConcatList(inputs []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range inputs {
		// Convert to absolute path for safety
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		// Escape single quotes in path
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
