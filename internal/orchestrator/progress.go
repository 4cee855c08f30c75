package orchestrator

import (
	"math"
	"time"
)

// Progress bands for the overall job. Prompt synthesis owns 0-30, section
// generation 30-80, finalization the rest.
const (
	progressSynthesized = 30
	sectionStageSpan    = 50
	progressFinalizing  = 85
	progressDone        = 100
)

// SectionProgress maps completed section counts into the 30-80 band.
func SectionProgress(completed, total int) int {
	if total <= 0 {
		return progressSynthesized
	}
	if completed > total {
		completed = total
	}
	return progressSynthesized + int(math.Floor(float64(completed)/float64(total)*sectionStageSpan))
}

// EstimateProgress is the display-only elapsed/estimated heuristic, capped
// at 95%. It is a UX approximation and never a completion signal.
func EstimateProgress(elapsed, estimatedTotal time.Duration) int {
	if estimatedTotal <= 0 {
		return 0
	}
	pct := int(math.Floor(float64(elapsed) / float64(estimatedTotal) * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 95 {
		pct = 95
	}
	return pct
}
