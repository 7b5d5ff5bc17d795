package stream

import (
	"math"
	"time"
)

// NextBackoffDelay returns the wait before reconnect number attempt. The
// result saturates at the largest representable duration instead of
// overflowing.
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	if delay >= math.MaxInt64 || math.IsInf(delay, 1) || math.IsNaN(delay) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
