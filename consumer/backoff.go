package consumer

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff returns the next retry delay using decorrelated jitter:
// a random value between base and prev*3, capped at capDur.
func jitterBackoff(prev, base, capDur time.Duration) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	spread := 3*prev - base
	if spread <= 0 {
		spread = base
	}
	next := base + time.Duration(rand.Int64N(int64(spread))) //nolint:gosec // non-crypto backoff jitter
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}
