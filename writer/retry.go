package writer

import (
	"context"
	"time"
)

// Retry runs an operation up to Attempts times with a fixed Backoff between
// attempts. It retries on any error; callers that need conditional retries
// wrap fn and decide which errors to return.
type Retry struct {
	Attempts int
	Backoff  time.Duration

	// OnRetry, when set, observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultRetry matches the store discipline: three attempts, half a second
// apart. In practice the loop rarely runs more than once; it mainly papers
// over append targets still being created by a concurrent instance.
var DefaultRetry = Retry{Attempts: 3, Backoff: 500 * time.Millisecond}

func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if i == attempts {
			break
		}

		if r.OnRetry != nil {
			r.OnRetry(i, last)
		}

		if r.Backoff > 0 {
			timer := time.NewTimer(r.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return last
}
