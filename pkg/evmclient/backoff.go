package evmclient

import (
	"math/rand"
	"time"
)

// backoff computes a doubling delay capped at max, with +/-20% jitter,
// grounded on pkg/rqlite/rqlite.go's exponentialBackoff.
func backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	jitter := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	if jitter > max {
		jitter = max
	}
	return jitter
}
