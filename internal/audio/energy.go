// Package audio turns a media file's audio track into a frame-level energy
// signal and derives hit intervals from it. It includes the ffmpeg-backed
// signal extractor, the event detector, and the interval merger.
package audio

import "math"

// EnergySignal is a uniform sequence of per-frame RMS energy values.
// Energies are normalized by the 16-bit PCM range so values fall in [0, 1].
// A signal with zero frames is valid and represents empty audio.
type EnergySignal struct {
	// FrameDuration is the duration of every frame in seconds.
	FrameDuration float64
	// Energies holds one RMS value per frame.
	Energies []float64
}

// Len returns the number of frames in the signal.
func (s EnergySignal) Len() int {
	return len(s.Energies)
}

// Duration returns the total signal duration in seconds.
func (s EnergySignal) Duration() float64 {
	return float64(len(s.Energies)) * s.FrameDuration
}

// pcmMaxAmplitude is the absolute range of a signed 16-bit sample.
const pcmMaxAmplitude = 32768.0

// rmsNormalized computes the RMS of a frame from its accumulated sum of
// squared sample values, scaled into [0, 1].
func rmsNormalized(sumSquares float64, samples int) float64 {
	if samples <= 0 {
		return 0
	}
	return math.Sqrt(sumSquares/float64(samples)) / pcmMaxAmplitude
}
