package dispatch

import (
	"math"
	"time"
)

// backoffDelay computes the exponential backoff with jitter for a retry
// attempt (0-based): base * 2^attempt + random(0, 0.1 * base * 2^attempt).
// rnd must return a value in [0, 1).
func backoffDelay(base time.Duration, attempt int, rnd func() float64) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	jitter := rnd() * 0.1 * d
	return time.Duration(d + jitter)
}
