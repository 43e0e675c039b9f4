package fetch

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before retry attempt n (0-based), doubling
// from base and capped at max, with +-25% jitter so synchronized
// retries spread out. base 100ms yields roughly 100, 200, 400ms.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	// jitter in [-25%, +25%]
	j := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	d += j
	if d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return d
}
