package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for audio extraction.
var (
	// ErrNoAudioStream is returned when the input has no audio track.
	ErrNoAudioStream = errors.New("input has no audio stream")
	// ErrDecode is returned when the audio track cannot be decoded.
	ErrDecode = errors.New("audio decode failed")
)

// Extractor defines the interface for turning a media file into an
// energy signal.
type Extractor interface {
	// Extract decodes the first audio stream of the file at path and
	// returns its per-frame energy signal. A file with a zero-length
	// audio stream yields an empty signal and no error.
	Extract(ctx context.Context, path string) (EnergySignal, error)
}

// Default decode parameters. Detection only needs relative energy, so a
// low mono sample rate keeps the decode cheap.
const (
	defaultSampleRate    = 16000
	defaultFrameDuration = 0.025
)

// FFmpegExtractor implements Extractor by piping raw PCM out of ffmpeg
// and computing frame RMS values as the stream arrives, so the decoded
// audio is never held in memory at once.
type FFmpegExtractor struct {
	ffmpegPath    string
	sampleRate    int
	frameDuration float64
}

// ExtractorOption configures an FFmpegExtractor.
type ExtractorOption func(*FFmpegExtractor)

// WithSampleRate sets the decode sample rate in Hz.
func WithSampleRate(hz int) ExtractorOption {
	return func(e *FFmpegExtractor) {
		if hz > 0 {
			e.sampleRate = hz
		}
	}
}

// WithFrameDuration sets the duration of each analysis frame in seconds.
func WithFrameDuration(seconds float64) ExtractorOption {
	return func(e *FFmpegExtractor) {
		if seconds > 0 {
			e.frameDuration = seconds
		}
	}
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegExtractor(ffmpegPath string, opts ...ExtractorOption) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegExtractor{
		ffmpegPath:    ffmpegPath,
		sampleRate:    defaultSampleRate,
		frameDuration: defaultFrameDuration,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract implements Extractor.Extract. It decodes the first audio stream
// to mono signed 16-bit PCM on stdout and folds the samples into one RMS
// value per frame. A trailing partial frame is dropped.
func (e *FFmpegExtractor) Extract(ctx context.Context, path string) (EnergySignal, error) {
	args := []string{
		"-i", path,
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", strconv.Itoa(e.sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"-loglevel", "error",
		"pipe:1",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return EnergySignal{}, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return EnergySignal{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	signal := EnergySignal{FrameDuration: e.frameDuration}
	frameSamples := int(float64(e.sampleRate) * e.frameDuration)
	if frameSamples < 1 {
		frameSamples = 1
	}

	reader := bufio.NewReaderSize(stdout, 64*1024)
	frame := make([]byte, frameSamples*2)
	var readErr error
	for {
		_, err := io.ReadFull(reader, frame)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		var sumSquares float64
		for i := 0; i+1 < len(frame); i += 2 {
			sample := float64(int16(binary.LittleEndian.Uint16(frame[i : i+2])))
			sumSquares += sample * sample
		}
		signal.Energies = append(signal.Energies, rmsNormalized(sumSquares, frameSamples))
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return EnergySignal{}, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return EnergySignal{}, classifyDecodeError(stderr.String())
	}
	if readErr != nil {
		return EnergySignal{}, fmt.Errorf("read pcm stream: %w", readErr)
	}

	return signal, nil
}

// classifyDecodeError distinguishes a missing audio stream from a broken
// one by inspecting the ffmpeg stderr output.
func classifyDecodeError(stderr string) error {
	detail := lastStderrLine(stderr)
	if strings.Contains(stderr, "matches no streams") ||
		strings.Contains(stderr, "does not contain any stream") {
		return fmt.Errorf("%w: %s", ErrNoAudioStream, detail)
	}
	return fmt.Errorf("%w: %s", ErrDecode, detail)
}

// lastStderrLine returns the last non-empty stderr line, which ffmpeg
// uses for its final error summary.
func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no ffmpeg output"
}
