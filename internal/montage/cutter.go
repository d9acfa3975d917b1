package montage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/strikelab/hitreel-api/internal/audio"
	"github.com/strikelab/hitreel-api/internal/media"
)

// ErrExtraction is returned when every segment fails to extract.
var ErrExtraction = errors.New("all segment extractions failed")

// defaultMaxParallel bounds concurrent ffmpeg processes per job.
const defaultMaxParallel = 4

// Cutter extracts hit intervals from a source video into clip files.
type Cutter interface {
	// Cut extracts one clip per interval. Failed intervals are reported
	// in the returned failures rather than aborting the whole run; only
	// cancellation or a run where every interval fails produces an error.
	// Returned segments keep the interval order.
	Cut(ctx context.Context, src string, intervals []audio.Interval, opts CutOptions) ([]Segment, []SegmentFailure, error)
}

// CutOptions configure a single Cut run.
type CutOptions struct {
	// OutputDir receives the extracted clip files.
	OutputDir string
	// Prefix is the file stem shared by all clips, usually the job ID.
	Prefix string
	// Precise re-encodes every cut instead of stream-copying.
	Precise bool
}

// ClipCutter implements Cutter on a media.Processor, running a bounded
// number of extractions in parallel.
type ClipCutter struct {
	processor   media.Processor
	logger      *slog.Logger
	maxParallel int
}

// CutterOption configures a ClipCutter.
type CutterOption func(*ClipCutter)

// WithMaxParallel sets how many extractions may run at once.
func WithMaxParallel(n int) CutterOption {
	return func(c *ClipCutter) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// NewClipCutter creates a new ClipCutter. A nil logger falls back to
// slog.Default().
func NewClipCutter(processor media.Processor, logger *slog.Logger, opts ...CutterOption) *ClipCutter {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ClipCutter{
		processor:   processor,
		logger:      logger,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cut implements Cutter.Cut.
func (c *ClipCutter) Cut(ctx context.Context, src string, intervals []audio.Interval, opts CutOptions) ([]Segment, []SegmentFailure, error) {
	if len(intervals) == 0 {
		return nil, nil, nil
	}

	// Per-interval slots keep the output in interval order regardless of
	// which extraction finishes first.
	segments := make([]*Segment, len(intervals))
	failures := make([]*SegmentFailure, len(intervals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for i, interval := range intervals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			segment, err := c.cutOne(gctx, src, interval, i+1, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("segment extraction failed",
					slog.Int("segment", i+1),
					slog.Float64("start", interval.Start),
					slog.Float64("end", interval.End),
					slog.Any("error", err),
				)
				failures[i] = &SegmentFailure{
					Index: i + 1,
					Start: interval.Start,
					End:   interval.End,
					Error: err.Error(),
				}
				return nil
			}
			segments[i] = segment
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.removeClips(segments)
		return nil, nil, fmt.Errorf("segment extraction cancelled: %w", err)
	}

	kept := make([]Segment, 0, len(intervals))
	var failed []SegmentFailure
	for i := range intervals {
		switch {
		case segments[i] != nil:
			kept = append(kept, *segments[i])
		case failures[i] != nil:
			failed = append(failed, *failures[i])
		}
	}

	if len(kept) == 0 {
		return nil, failed, fmt.Errorf("%w: %d of %d", ErrExtraction, len(failed), len(intervals))
	}
	return kept, failed, nil
}

// cutOne extracts a single interval. A failed copy cut is retried once
// with re-encoding before giving up; partial output files are removed.
func (c *ClipCutter) cutOne(ctx context.Context, src string, interval audio.Interval, index int, opts CutOptions) (*Segment, error) {
	filename := segmentFilename(opts.Prefix, index)
	outputPath := filepath.Join(opts.OutputDir, filename)

	precise := opts.Precise
	err := c.processor.ExtractClip(ctx, src, outputPath, interval.Start, interval.End, precise)
	if err != nil && !precise && ctx.Err() == nil {
		c.logger.Warn("copy cut failed, retrying with re-encode",
			slog.Int("segment", index),
			slog.Any("error", err),
		)
		_ = os.Remove(outputPath)
		err = c.processor.ExtractClip(ctx, src, outputPath, interval.Start, interval.End, true)
		precise = true
	}
	if err != nil {
		_ = os.Remove(outputPath)
		return nil, err
	}

	segment := &Segment{
		Index:      index,
		Start:      interval.Start,
		End:        interval.End,
		Duration:   interval.Duration(),
		OutputPath: outputPath,
		Filename:   filename,
		Reencoded:  precise,
	}
	if info, statErr := os.Stat(outputPath); statErr == nil {
		segment.SizeBytes = info.Size()
	}
	return segment, nil
}

// removeClips deletes any clips that were already extracted, used when a
// run is cancelled partway through.
func (c *ClipCutter) removeClips(segments []*Segment) {
	for _, segment := range segments {
		if segment != nil {
			_ = os.Remove(segment.OutputPath)
		}
	}
}

// segmentFilename names a clip file, for example "mtg-abc123_segment_001.mp4".
func segmentFilename(prefix string, index int) string {
	return fmt.Sprintf("%s_segment_%03d.mp4", prefix, index)
}
