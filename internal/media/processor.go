// Package media provides video processing and inspection on top of the
// ffmpeg and ffprobe CLIs.
package media

import "context"

// Processor defines the interface for video processing operations.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// ExtractClip cuts the [start, end) range out of src into dst.
	// With precise false the streams are copied without re-encoding, which
	// is fast but snaps the cut to the nearest keyframe before start. With
	// precise true the clip is re-encoded for frame-accurate boundaries.
	ExtractClip(ctx context.Context, src, dst string, start, end float64, precise bool) error

	// Concat concatenates the input files into a single output file in
	// order. With reencode false the streams are copied, which requires
	// all inputs to share compatible codecs and parameters. With reencode
	// true the output is re-encoded with libx264/aac.
	Concat(ctx context.Context, inputs []string, output string, reencode bool) error
}

// Prober defines the interface for inspecting media files.
type Prober interface {
	// Probe returns the container and stream properties of the file at
	// path. A file without an audio stream is not an error; check
	// Info.HasAudio.
	Probe(ctx context.Context, path string) (*Info, error)
}
