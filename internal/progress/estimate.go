// Package progress computes completion percentage and remaining-time estimates for a
// chunked synthesis job.
//
// The estimate is a linear extrapolation recomputed from scratch on every call: it
// assumes every chunk costs the same and applies no smoothing, so it swings early in a
// job and settles as more chunks complete.
package progress

import (
	"fmt"
	"math"
)

const (
	percentScale    = 100
	secondsInMinute = 60
	formatSeconds   = "%ds"
	formatMinutes   = "%dm %ds"
	formatRemaining = "%s remaining"

	// EstimatingLabel is shown until the first chunk completes.
	EstimatingLabel = "Estimating..."
)

// Estimate is the result of one estimation.
type Estimate struct {
	Percent float64
	// RemainingSeconds is nil until at least one chunk has completed.
	RemainingSeconds *float64
}

// Compute returns the completion percentage and, once completed > 0, the remaining
// seconds assuming the average per-chunk cost so far holds for the rest.
func Compute(completed, total int, elapsedSeconds float64) Estimate {
	var est Estimate

	if total > 0 {
		est.Percent = float64(completed) / float64(total) * percentScale
	}

	if completed > 0 {
		avgPerChunk := elapsedSeconds / float64(completed)
		remaining := avgPerChunk * float64(total-completed)
		est.RemainingSeconds = &remaining
	}

	return est
}

// Label renders the estimate for display.
func (e Estimate) Label() string {
	if e.RemainingSeconds == nil {
		return EstimatingLabel
	}

	return fmt.Sprintf(formatRemaining, FormatSeconds(*e.RemainingSeconds))
}

// FormatSeconds renders whole seconds ("45s") below a minute and minutes with
// seconds ("2m 5s") otherwise. Fractional seconds round up; from a minute on they
// round up before splitting, so 119.5 renders as "2m 0s".
func FormatSeconds(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	whole := int(math.Ceil(seconds))
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, whole)
	}

	return fmt.Sprintf(formatMinutes, whole/secondsInMinute, whole%secondsInMinute)
}
