package retry

import (
	"context"
	"time"
)

// Poll calls check until it reports done, the policy's retries are exhausted,
// or ctx ends. Delays between attempts follow the policy. A policy with
// MaxRetries == 0 polls until ctx ends.
//
// The last error returned by check is returned when polling gives up; if check
// never returned an error, ctx.Err() is returned instead.
func Poll(ctx context.Context, p Policy, check func(ctx context.Context) (bool, error)) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		done, err := check(ctx)
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if p.MaxRetries > 0 && attempt >= p.MaxRetries {
			break
		}

		timer := time.NewTimer(p.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return context.DeadlineExceeded
}
