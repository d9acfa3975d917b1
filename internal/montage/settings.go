// Package montage turns detected hit intervals into extracted video
// segments and assembles them into a single highlight reel.
package montage

import (
	"errors"
	"fmt"
)

// Defaults applied when a request does not override a setting.
const (
	DefaultSensitivity = 0.3
	DefaultMergeGap    = 0.8
	DefaultPadding     = 0.0
	DefaultMinDuration = 0.5
)

// Validation bounds for user-supplied settings.
const (
	minMergeGap = 0.1
	maxMergeGap = 5.0
	maxPadding  = 30.0
)

// Static errors for settings validation.
var (
	// ErrSensitivityRange is returned when sensitivity is outside [0, 1].
	ErrSensitivityRange = errors.New("sensitivity must be between 0.0 and 1.0")
	// ErrMergeGapRange is returned when the merge gap is outside [0.1, 5.0].
	ErrMergeGapRange = errors.New("merge gap must be between 0.1 and 5.0 seconds")
	// ErrPaddingRange is returned when padding is outside [0, 30].
	ErrPaddingRange = errors.New("padding must be between 0.0 and 30.0 seconds")
	// ErrMinDurationRange is returned when the minimum duration is negative.
	ErrMinDurationRange = errors.New("minimum duration must not be negative")
)

// Settings control how hits are detected, shaped, and cut.
type Settings struct {
	// Sensitivity is the detection threshold in [0, 1]. Lower values mark
	// more of the signal as active.
	Sensitivity float64
	// MergeGap is the silence in seconds below which adjacent hits merge.
	MergeGap float64
	// Padding widens every hit interval by this many seconds on each side.
	Padding float64
	// MinDuration drops hits no longer than this many seconds.
	MinDuration float64
	// PreciseCut re-encodes segment cuts for frame-accurate boundaries.
	PreciseCut bool
	// PushToS3 uploads the finished montage to object storage.
	PushToS3 bool
}

// DefaultSettings returns the settings used when a request does not
// override them.
func DefaultSettings() Settings {
	return Settings{
		Sensitivity: DefaultSensitivity,
		MergeGap:    DefaultMergeGap,
		Padding:     DefaultPadding,
		MinDuration: DefaultMinDuration,
	}
}

// Validate checks that all values are within their allowed ranges.
func (s Settings) Validate() error {
	if s.Sensitivity < 0 || s.Sensitivity > 1 {
		return fmt.Errorf("%w: got %.2f", ErrSensitivityRange, s.Sensitivity)
	}
	if s.MergeGap < minMergeGap || s.MergeGap > maxMergeGap {
		return fmt.Errorf("%w: got %.2f", ErrMergeGapRange, s.MergeGap)
	}
	if s.Padding < 0 || s.Padding > maxPadding {
		return fmt.Errorf("%w: got %.2f", ErrPaddingRange, s.Padding)
	}
	if s.MinDuration < 0 {
		return fmt.Errorf("%w: got %.2f", ErrMinDurationRange, s.MinDuration)
	}
	return nil
}
