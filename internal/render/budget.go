package render

import (
	"time"

	"golang.org/x/time/rate"
)

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// remainingBudgetMs computes R = max(1000, timeoutMs - elapsed), the
// remaining-time budget function the readiness protocol's later steps scale
// against.
func remainingBudgetMs(timeoutMs int, elapsed time.Duration) int {
	r := timeoutMs - int(elapsed.Milliseconds())
	return maxInt(1000, r)
}

// readinessLogThrottle limits how often a readiness sub-step's tolerated
// timeout is logged; under high render concurrency every miss would
// otherwise produce a debug log line.
var readinessLogThrottle = rate.Sometimes{Interval: 10 * time.Second}
