package embedding

import "time"

// RetryPolicy governs backoff for rate-limited embedding calls. Delay for
// attempt n is BaseDelay * Multiplier^n; the policy is a plain value so
// tests can inject tight timings.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// Delay returns the backoff before retry number attempt (zero-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}
