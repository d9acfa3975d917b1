package audio

import "math"

// dbEpsilon guards the log conversion for silent frames.
const dbEpsilon = 1e-10

// DetectEvents thresholds the signal into an activity mask with one entry
// per frame. Frame energies are converted to decibels and min-max
// normalized into [0, 1]; a frame is active when its normalized level
// strictly exceeds sensitivity. A lower sensitivity therefore always marks
// a superset of the frames marked by a higher one. A silent or flat signal
// produces an all-false mask.
func DetectEvents(signal EnergySignal, sensitivity float64) []bool {
	mask := make([]bool, signal.Len())
	if signal.Len() == 0 {
		return mask
	}

	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}

	levels := make([]float64, len(signal.Energies))
	minLevel := math.Inf(1)
	maxLevel := math.Inf(-1)
	for i, energy := range signal.Energies {
		level := 20 * math.Log10(energy+dbEpsilon)
		levels[i] = level
		if level < minLevel {
			minLevel = level
		}
		if level > maxLevel {
			maxLevel = level
		}
	}

	span := maxLevel - minLevel
	if span < 1e-9 {
		// Flat signal, nothing stands out.
		return mask
	}

	for i, level := range levels {
		if (level-minLevel)/span > sensitivity {
			mask[i] = true
		}
	}
	return mask
}
