package session

import (
	"math"
	"time"
)

// reconnectDelay computes the wait before reconnect attempt n (1-based):
// initial * factor^(n-1), capped at max. The schedule is deterministic
// so, with the defaults, interrupted clients retry at 1s, 2s, 4s, 8s,
// 15s rather than hammering a recovering server.
func reconnectDelay(initial, max time.Duration, factor float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		initial = time.Second
	}
	if factor < 1 {
		factor = 1
	}
	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}
