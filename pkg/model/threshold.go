package model

// ThresholdSearch configures the post-training operating-point selection.
type ThresholdSearch struct {
	Min          float64 // grid start, inclusive
	Max          float64 // grid end, inclusive
	Step         float64
	TargetRecall float64 // minimum recall on the risky class
	SafeDefault  float64 // used when no grid point reaches the target
}

// DefaultThresholdSearch mirrors the production operating point: a dense
// grid from 0.10 to 0.60, a 0.80 recall floor, and a conservative 0.25
// fallback when the floor is out of reach.
func DefaultThresholdSearch() ThresholdSearch {
	return ThresholdSearch{
		Min:          0.10,
		Max:          0.60,
		Step:         0.02,
		TargetRecall: 0.80,
		SafeDefault:  0.25,
	}
}

// Select walks the threshold grid over held-out probabilities. Among
// thresholds whose recall meets the target it picks the one with the best
// F1. If no threshold reaches the target recall, the best-F1 optimum is
// discarded in favor of the safe default: trusting a low-recall optimum
// would undo the cost asymmetry the class weighting exists to enforce.
// metTarget reports which branch was taken.
func (s ThresholdSearch) Select(probs []float64, y []int) (threshold float64, metTarget bool) {
	best := s.SafeDefault
	bestF1 := -1.0
	found := false

	// half-step slack keeps the inclusive end of the grid despite float drift
	for t := s.Min; t <= s.Max+s.Step/2; t += s.Step {
		recall := recallAt(probs, y, t)
		f1 := f1At(probs, y, t)
		if recall >= s.TargetRecall {
			if !found || f1 > bestF1 {
				bestF1 = f1
				best = t
			}
			found = true
		} else if !found && f1 > bestF1 {
			bestF1 = f1
			best = t
		}
	}
	if !found {
		return s.SafeDefault, false
	}
	return best, true
}
