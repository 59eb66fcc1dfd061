package s3

import (
	"context"
	"time"
)

const defaultRetryDelay = 500 * time.Millisecond

// retrier re-invokes a fallible operation up to maxRetries additional times
// after the first failure, waiting an increasing delay (500ms doubling)
// before each retry. Permanent failures (4xx, protocol, config) short-circuit
// immediately regardless of remaining attempts.
type retrier struct {
	maxRetries int
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRetrier(maxRetries int) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		delay:      defaultRetryDelay,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op, retrying transient failures. The last failure is returned when
// attempts are exhausted; a success returns the underlying result unchanged.
func (r *retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := r.delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= r.maxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
}
