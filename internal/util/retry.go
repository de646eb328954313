package util

import (
	"context"
	"time"
)

// Retry calls fn until it succeeds or attempts run out, waiting backoff
// between failures. The last error is returned; a cancelled ctx cuts the
// wait short.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; ; i++ {
		if err = fn(); err == nil || i == attempts {
			return err
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
