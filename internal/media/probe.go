package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for media inspection.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when the input has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// Info describes the container and stream properties of a video file.
type Info struct {
	Filename        string     `json:"filename"`
	Format          string     `json:"format"`
	DurationSeconds float64    `json:"duration_seconds"`
	Duration        string     `json:"duration"`
	SizeBytes       int64      `json:"file_size"`
	SizeMB          float64    `json:"file_size_mb"`
	BitRate         int64      `json:"bitrate"`
	VideoCodec      string     `json:"codec"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	Resolution      string     `json:"resolution"`
	FPS             float64    `json:"fps"`
	AspectRatio     string     `json:"aspect_ratio"`
	HDR             bool       `json:"hdr"`
	Audio           *AudioInfo `json:"audio,omitempty"`
}

// AudioInfo describes the first audio stream of a video file.
type AudioInfo struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int64  `json:"bitrate"`
}

// HasAudio reports whether the file has an audio stream.
func (i *Info) HasAudio() bool {
	return i.Audio != nil
}

// hdrIndicators mark HDR content when found in the color space or
// transfer metadata.
var hdrIndicators = []string{"bt2020", "smpte2084", "hlg", "hdr"}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// Probe runs ffprobe on the file at path and parses the JSON output.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (*Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes(), path)
}

// probeOutput mirrors the subset of ffprobe's JSON output that Info needs.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	ColorSpace    string `json:"color_space"`
	ColorTransfer string `json:"color_transfer"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitRate       string `json:"bit_rate"`
}

// parseProbeOutput builds an Info from raw ffprobe JSON. The first video
// and first audio stream are used; extra streams are ignored.
func parseProbeOutput(raw []byte, path string) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var video, audio *probeStream
	for i := range out.Streams {
		stream := &out.Streams[i]
		switch {
		case stream.CodecType == "video" && video == nil:
			video = stream
		case stream.CodecType == "audio" && audio == nil:
			audio = stream
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoVideoStream, filepath.Base(path))
	}

	duration := parseProbeFloat(out.Format.Duration)
	sizeBytes := parseProbeInt(out.Format.Size)

	info := &Info{
		Filename:        filepath.Base(path),
		Format:          out.Format.FormatName,
		DurationSeconds: duration,
		Duration:        formatClock(duration),
		SizeBytes:       sizeBytes,
		SizeMB:          math.Round(float64(sizeBytes)/(1<<20)*100) / 100,
		BitRate:         parseProbeInt(out.Format.BitRate),
		VideoCodec:      video.CodecName,
		Width:           video.Width,
		Height:          video.Height,
		Resolution:      fmt.Sprintf("%dx%d", video.Width, video.Height),
		FPS:             parseFPS(video.RFrameRate),
		AspectRatio:     aspectRatio(video.Width, video.Height),
		HDR:             isHDR(video.ColorSpace, video.ColorTransfer),
	}

	if audio != nil {
		info.Audio = &AudioInfo{
			Codec:      audio.CodecName,
			Channels:   audio.Channels,
			SampleRate: int(parseProbeInt(audio.SampleRate)),
			BitRate:    parseProbeInt(audio.BitRate),
		}
	}

	return info, nil
}

// parseFPS parses a frame rate from a fractional string like "30000/1001".
func parseFPS(s string) float64 {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n := parseProbeFloat(num)
		d := parseProbeFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseProbeFloat(s)
}

// aspectRatio reduces the frame dimensions to their simplest ratio.
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return fmt.Sprintf("%d:%d", width, height)
	}
	d := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// isHDR checks the color metadata for common HDR markers.
func isHDR(colorSpace, colorTransfer string) bool {
	colorSpace = strings.ToLower(colorSpace)
	colorTransfer = strings.ToLower(colorTransfer)
	for _, indicator := range hdrIndicators {
		if strings.Contains(colorSpace, indicator) || strings.Contains(colorTransfer, indicator) {
			return true
		}
	}
	return false
}

// formatClock renders a duration in seconds as HH:MM:SS.
func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func parseProbeFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseProbeInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
