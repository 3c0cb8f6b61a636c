// Package backoff describes bounded exponential retry schedules.
package backoff

import (
	"math"
	"time"
)

// Policy is an exponential backoff schedule.
//
//	delay(n) = min(Base * Multiplier^(n-1), Cap)
//
// With the defaults: 300ms, 600ms, 1.2s, 2.4s, 4.8s, then exhausted.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int // 0 means unbounded
}

// Default returns the camera restoration schedule.
func Default() Policy {
	return Policy{
		Base:        300 * time.Millisecond,
		Multiplier:  2,
		Cap:         5 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Base) * math.Pow(mult, float64(attempt-1))
	if p.Cap > 0 && d > float64(p.Cap) {
		return p.Cap
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts failures have used up the budget.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Schedule lists every delay the policy allows, for logging and tests.
func (p Policy) Schedule() []time.Duration {
	if p.MaxAttempts <= 0 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts)
	for i := 1; i <= p.MaxAttempts; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}
