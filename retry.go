package flowtick

import (
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// RetryBuilder provides a fluent way to set a step's attempt budget and
// backoff for use with RunBuilder.StepWithRetry.
//
// The delay before retry n (n >= 1) is base * 2^(n-1), so
// Retry(3).WithBackoff(time.Second) waits 1s then 2s.
type RetryBuilder struct {
	maxAttempts int
	base        time.Duration
}

// Retry creates a RetryBuilder with the given maxAttempts and no delay.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{maxAttempts: maxAttempts}
}

// WithBackoff sets the base delay of the exponential backoff.
// Negative values are treated as zero.
func (r RetryBuilder) WithBackoff(base time.Duration) RetryBuilder {
	if base < 0 {
		base = 0
	}
	r.base = base
	return r
}

// Immediate retries without waiting.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.base = 0
	return r
}

// MaxAttempts returns the attempt budget.
func (r RetryBuilder) MaxAttempts() int {
	return r.maxAttempts
}

// Delays returns the waits before each retry the builder allows.
func (r RetryBuilder) Delays() []time.Duration {
	out := make([]time.Duration, 0, r.maxAttempts-1)
	for attempt := 1; attempt < r.maxAttempts; attempt++ {
		out = append(out, api.ComputeDelay(r.base, attempt))
	}
	return out
}

func (r RetryBuilder) apply(s *Step) {
	s.MaxAttempts = r.maxAttempts
	s.RetryDelay = r.base
}
