package gcodefeeder

import "time"

// ticksPerStream is how many progress reports a stream produces, one every 5%.
const ticksPerStream = 20

// Estimate is the progress of a stream at a given line.
type Estimate struct {
	Percent   float64
	Elapsed   time.Duration
	Remaining time.Duration
}

// EstimateProgress extrapolates the time left from the time taken for the first index
// lines out of total.
func EstimateProgress(index, total int, elapsed time.Duration) Estimate {
	e := Estimate{Elapsed: elapsed}
	if index <= 0 || total <= 0 {
		return e
	}
	e.Percent = float64(index) / float64(total) * 100
	estimatedTotal := time.Duration(float64(elapsed) / float64(index) * float64(total))
	e.Remaining = estimatedTotal - elapsed
	if e.Remaining < 0 {
		e.Remaining = 0
	}
	return e
}

// tickInterval returns every how many lines progress is reported.
// Files shorter than ticksPerStream lines report on every line.
func tickInterval(total int) int {
	if n := total / ticksPerStream; n > 0 {
		return n
	}
	return 1
}
