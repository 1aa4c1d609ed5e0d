package notifier

import (
	"math/rand"
	"time"
)

// backoff is the wait after a failed attempt (1-based): base doubled per
// attempt, capped at limit, with ±30% jitter.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return max(0, min(d, limit))
}
