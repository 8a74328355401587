package consumer

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	baseBackoff  = 500 * time.Millisecond
	jitterWindow = 250 * time.Millisecond
)

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base / 2
	}
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
