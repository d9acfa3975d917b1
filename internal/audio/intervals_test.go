package audio

import (
	"math"
	"testing"
)

// buildMask returns an n-frame mask with the given [from, to) frame
// ranges set active.
func buildMask(n int, runs ...[2]int) []bool {
	mask := make([]bool, n)
	for _, run := range runs {
		for i := run[0]; i < run[1]; i++ {
			mask[i] = true
		}
	}
	return mask
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func assertIntervals(t *testing.T, got []Interval, want []Interval) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d intervals, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !approxEqual(got[i].Start, want[i].Start) || !approxEqual(got[i].End, want[i].End) {
			t.Errorf("interval %d: expected [%.3f, %.3f], got [%.3f, %.3f]",
				i, want[i].Start, want[i].End, got[i].Start, got[i].End)
		}
	}
}

func TestMergeIntervals(t *testing.T) {
	tests := []struct {
		name          string
		mask          []bool
		frameDuration float64
		opts          MergeOptions
		want          []Interval
	}{
		{
			name:          "nearby runs merge across a small gap",
			mask:          buildMask(60, [2]int{20, 25}, [2]int{27, 31}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5},
			want:          []Interval{{Start: 2.0, End: 3.1}},
		},
		{
			name:          "padding expands the merged interval",
			mask:          buildMask(60, [2]int{20, 25}, [2]int{27, 31}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5, Padding: 1.0},
			want:          []Interval{{Start: 1.0, End: 4.1}},
		},
		{
			name:          "gap equal to the merge gap stays split",
			mask:          buildMask(60, [2]int{20, 25}, [2]int{30, 34}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5},
			want: []Interval{
				{Start: 2.0, End: 2.5},
				{Start: 3.0, End: 3.4},
			},
		},
		{
			name:          "short intervals are dropped before padding",
			mask:          buildMask(60, [2]int{10, 15}, [2]int{30, 37}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5, Padding: 1.0, MinDuration: 0.5},
			want:          []Interval{{Start: 2.0, End: 4.7}},
		},
		{
			name:          "padding is clamped to the signal bounds",
			mask:          buildMask(60, [2]int{0, 5}, [2]int{55, 60}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5, Padding: 1.0},
			want: []Interval{
				{Start: 0, End: 1.5},
				{Start: 4.5, End: 6.0},
			},
		},
		{
			name:          "padding can close a gap and re-merge",
			mask:          buildMask(60, [2]int{10, 15}, [2]int{25, 30}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5, Padding: 0.4},
			want:          []Interval{{Start: 0.6, End: 3.4}},
		},
		{
			name:          "trailing run extends to the end of the mask",
			mask:          buildMask(10, [2]int{7, 10}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5},
			want:          []Interval{{Start: 0.7, End: 1.0}},
		},
		{
			name:          "explicit total duration clamps the tail",
			mask:          buildMask(60, [2]int{45, 50}),
			frameDuration: 0.1,
			opts:          MergeOptions{MergeGap: 0.5, Padding: 0.5, TotalDuration: 5.0},
			want:          []Interval{{Start: 4.0, End: 5.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeIntervals(tt.mask, tt.frameDuration, tt.opts)
			assertIntervals(t, got, tt.want)
		})
	}
}

func TestMergeIntervals_EmptyMask(t *testing.T) {
	if got := MergeIntervals(nil, 0.1, MergeOptions{MergeGap: 0.5}); got != nil {
		t.Errorf("expected nil for empty mask, got %v", got)
	}

	allInactive := make([]bool, 100)
	if got := MergeIntervals(allInactive, 0.1, MergeOptions{MergeGap: 0.5}); got != nil {
		t.Errorf("expected nil for all-inactive mask, got %v", got)
	}
}

func TestMergeIntervals_AllRunsTooShort(t *testing.T) {
	mask := buildMask(60, [2]int{10, 12}, [2]int{30, 33})

	got := MergeIntervals(mask, 0.1, MergeOptions{MergeGap: 0.1, MinDuration: 0.5})
	if got != nil {
		t.Errorf("expected nil when every run is too short, got %v", got)
	}
}

func TestMergeIntervals_KeepsGapInvariant(t *testing.T) {
	mask := buildMask(200,
		[2]int{5, 20}, [2]int{24, 40}, [2]int{60, 80},
		[2]int{95, 110}, [2]int{150, 170}, [2]int{176, 190},
	)

	opts := MergeOptions{MergeGap: 0.8, Padding: 0.3, MinDuration: 0.5}
	got := MergeIntervals(mask, 0.1, opts)
	if len(got) == 0 {
		t.Fatal("expected intervals")
	}

	for i := 1; i < len(got); i++ {
		gap := got[i].Start - got[i-1].End
		if gap < opts.MergeGap-1e-9 {
			t.Errorf("intervals %d and %d are only %.3fs apart, want at least %.3fs", i-1, i, gap, opts.MergeGap)
		}
	}
	for i, iv := range got {
		if iv.Start < 0 || iv.End > 20.0+1e-9 {
			t.Errorf("interval %d out of bounds: [%.3f, %.3f]", i, iv.Start, iv.End)
		}
		if iv.Duration() <= 0 {
			t.Errorf("interval %d has non-positive duration", i)
		}
	}
}
