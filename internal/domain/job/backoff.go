package job

import "time"

const (
	// DefaultBackoffBase is the delay before the first retry.
	DefaultBackoffBase = 2 * time.Second
	// DefaultBackoffMax caps the exponential growth.
	DefaultBackoffMax = 5 * time.Minute
)

// BackoffPolicy computes exponential retry delays: Base·2^(attempt-1), capped at Max.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the engine's default retry schedule.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

// Delay returns the wait before the retry that follows failed attempt number attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if ceiling < base {
		ceiling = base
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}
