package harness

import "time"

// BackoffStrategy selects how the delay grows between retry attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy governs re-execution of a failed test case. Zero value means
// no retries: one attempt, no delay.
type RetryPolicy struct {
	MaxRetries int             `json:"max_retries"`
	Delay      time.Duration   `json:"delay"`
	Strategy   BackoffStrategy `json:"strategy"`
	MaxDelay   time.Duration   `json:"max_delay"`
}

// Attempts returns the total number of executions the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the delay before the given retry (1-based). Exponential
// doubles per retry and is capped by MaxDelay when set.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry <= 0 || p.Delay <= 0 {
		return 0
	}
	d := p.Delay
	if p.Strategy == BackoffExponential {
		for i := 1; i < retry; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
