package api

import (
	"math"
	"time"
)

// ComputeDelay returns the retry delay after the given attempt number
// (1-indexed): base * 2^(attempt-1). Attempts below 1 are treated as 1.
//
// No cap is applied; callers that need one clamp the result themselves.
func ComputeDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	shift := attempt - 1
	// Saturate instead of overflowing int64 nanoseconds.
	if shift >= 63 || int64(base) > math.MaxInt64>>shift {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}
