package audio

// Interval is a half-open time range [Start, End) in seconds.
type Interval struct {
	Start float64
	End   float64
}

// Duration returns the interval length in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

// MergeOptions configures how an activity mask is turned into intervals.
type MergeOptions struct {
	// MergeGap is the minimum silence between two intervals in seconds.
	// Intervals separated by less than this are merged into one.
	MergeGap float64
	// Padding expands every interval by this many seconds on both sides.
	Padding float64
	// MinDuration drops merged intervals that are not longer than this,
	// before padding is applied.
	MinDuration float64
	// TotalDuration clamps padded intervals to [0, TotalDuration]. When
	// zero or negative, the mask's own duration is used instead.
	TotalDuration float64
}

// MergeIntervals converts an activity mask into a sorted list of
// non-overlapping intervals. Runs of active frames become raw intervals,
// nearby intervals merge, short ones are dropped, and survivors are padded,
// clamped, and merged once more under the same gap rule. The returned list
// therefore always keeps consecutive intervals at least MergeGap apart.
// An all-inactive mask yields nil.
func MergeIntervals(mask []bool, frameDuration float64, opts MergeOptions) []Interval {
	raw := maskRuns(mask, frameDuration)
	if len(raw) == 0 {
		return nil
	}

	merged := mergeByGap(raw, opts.MergeGap)

	kept := merged[:0]
	for _, iv := range merged {
		if iv.Duration() > opts.MinDuration {
			kept = append(kept, iv)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	total := opts.TotalDuration
	if total <= 0 {
		total = float64(len(mask)) * frameDuration
	}

	padded := make([]Interval, 0, len(kept))
	for _, iv := range kept {
		start := iv.Start - opts.Padding
		if start < 0 {
			start = 0
		}
		end := iv.End + opts.Padding
		if end > total {
			end = total
		}
		if end > start {
			padded = append(padded, Interval{Start: start, End: end})
		}
	}
	if len(padded) == 0 {
		return nil
	}

	return mergeByGap(padded, opts.MergeGap)
}

// maskRuns converts runs of consecutive active frames into raw intervals.
func maskRuns(mask []bool, frameDuration float64) []Interval {
	var runs []Interval
	runStart := -1
	for i, active := range mask {
		switch {
		case active && runStart < 0:
			runStart = i
		case !active && runStart >= 0:
			runs = append(runs, Interval{
				Start: float64(runStart) * frameDuration,
				End:   float64(i) * frameDuration,
			})
			runStart = -1
		}
	}
	if runStart >= 0 {
		runs = append(runs, Interval{
			Start: float64(runStart) * frameDuration,
			End:   float64(len(mask)) * frameDuration,
		})
	}
	return runs
}

// mergeByGap folds sorted intervals whose gap is smaller than minGap.
// Overlapping intervals always merge.
func mergeByGap(intervals []Interval, minGap float64) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	merged := []Interval{intervals[0]}
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Start-last.End < minGap {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
