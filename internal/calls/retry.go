package calls

import (
	"context"
	"time"
)

const (
	maxJoinAttempts = 3
	backoffStep     = 1500 * time.Millisecond
	maxBackoff      = 4 * time.Second
)

type sleepFunc func(ctx context.Context, d time.Duration) error

// backoffDelay is min(1.5s * attempt, 4s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * backoffStep
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
