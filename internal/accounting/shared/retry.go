package shared

import (
	"context"
	"errors"
	"time"
)

// DefaultConflictRetries bounds internal retries of ErrConcurrencyConflict.
const DefaultConflictRetries = 3

// RetryOnConflict runs fn until it succeeds, fails with anything other than
// ErrConcurrencyConflict, or attempts are exhausted. The last error is returned.
func RetryOnConflict(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}
