package window

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrBusy is returned when the previous call to a platform API has not
// returned yet. At most one call per wrapper is outstanding at any time.
var ErrBusy = errors.New("previous query still running")

// boundedCall runs fn with a deadline and returns when either fn finishes or
// the deadline passes. A platform call that ignores ctx keeps running in the
// background, but busy stops further calls from piling up behind it.
func boundedCall[T any](ctx context.Context, busy *atomic.Bool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !busy.CompareAndSwap(false, true) {
		return zero, ErrBusy
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer busy.Store(false)
		defer cancel()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("query timed out after %v: %w", timeout, ctx.Err())
	}
}
