package backoff

import (
	"context"
	"time"
)

// SleepWithContext waits for d or until ctx is cancelled, whichever
// comes first, returning ctx.Err() in the cancelled case. A
// non-positive d returns immediately.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
