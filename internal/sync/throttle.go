package sync

import (
	"context"
	"time"
)

// Throttle imposes a minimum delay between successive destination calls so
// the remote rate limit is respected. Wait is called before every call; the
// delay applies between calls only, never before the first or after the last.
type Throttle interface {
	Wait(ctx context.Context) error
}

// NewIntervalThrottle returns a Throttle enforcing a fixed minimum gap
// between calls.
func NewIntervalThrottle(interval time.Duration) Throttle {
	return &intervalThrottle{interval: interval}
}

type intervalThrottle struct {
	interval time.Duration
	last     time.Time
}

func (t *intervalThrottle) Wait(ctx context.Context) error {
	if !t.last.IsZero() {
		if remaining := t.interval - time.Since(t.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	t.last = time.Now()
	return nil
}

// NoThrottle returns a Throttle that never delays. Used in tests and for
// destinations without rate limits.
func NoThrottle() Throttle {
	return noThrottle{}
}

type noThrottle struct{}

func (noThrottle) Wait(ctx context.Context) error {
	return ctx.Err()
}
