package montage

// Segment is one extracted hit clip. Index is the segment's 1-based
// position in the montage order.
type Segment struct {
	Index      int
	Start      float64
	End        float64
	Duration   float64
	OutputPath string
	Filename   string
	SizeBytes  int64
	// Reencoded is true when the clip was re-encoded instead of
	// stream-copied.
	Reencoded bool
}

// SegmentFailure records an interval that could not be extracted.
type SegmentFailure struct {
	Index int
	Start float64
	End   float64
	Error string
}

// Stats summarize a finished montage run.
type Stats struct {
	HitsDetected     int
	TotalDuration    float64
	MontageDuration  float64
	CompressionRatio float64
	TimeSaved        float64
	SegmentsFailed   int
	Reencoded        bool
}

// Result is the outcome of a completed montage job.
type Result struct {
	MontagePath string
	MontageName string
	// OutputURL is set when the montage was uploaded to object storage.
	OutputURL string
	// Message is set instead of a montage when the run completed without
	// producing one, for example when no hits were detected.
	Message  string
	Segments []Segment
	Failures []SegmentFailure
	Stats    Stats
}

// RecombineResult is the outcome of combining previously extracted
// segments into a new file.
type RecombineResult struct {
	OutputPath       string
	OutputName       string
	SegmentsCombined int
	CombinedDuration float64
	Reencoded        bool
}

// ComputeStats derives the summary numbers for a montage run. The
// compression ratio is the montage length as a fraction of the source
// length; time saved is the difference.
func ComputeStats(totalDuration, montageDuration float64, hits, failed int, reencoded bool) Stats {
	stats := Stats{
		HitsDetected:    hits,
		TotalDuration:   totalDuration,
		MontageDuration: montageDuration,
		SegmentsFailed:  failed,
		Reencoded:       reencoded,
	}
	if totalDuration > 0 {
		stats.CompressionRatio = montageDuration / totalDuration
	}
	if saved := totalDuration - montageDuration; saved > 0 {
		stats.TimeSaved = saved
	}
	return stats
}
