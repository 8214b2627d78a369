package clients

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
)

// ErrTimeout is returned when a call guarded by WithTimeout exceeds its limit.
var ErrTimeout = timeout.ErrExceeded

type outcome[R any] struct {
	val      R
	err      error
	panicked bool
	panicVal interface{}
}

// WithTimeout runs fn under a failsafe timeout policy. The context handed to fn
// is cancelled when the limit is exceeded, and WithTimeout returns ErrTimeout
// at the limit even if fn keeps running; fn is then left to finish on its own
// goroutine. A panic in fn is re-raised on the caller's goroutine. A
// non-positive limit runs fn directly with ctx.
func WithTimeout[R any](ctx context.Context, limit time.Duration, fn func(ctx context.Context) (R, error)) (R, error) {
	if limit <= 0 {
		return fn(ctx)
	}

	executor := failsafe.With[R](timeout.New[R](limit))
	done := make(chan outcome[R], 1)
	go func() {
		var out outcome[R]
		defer func() {
			if r := recover(); r != nil {
				out.panicked, out.panicVal = true, r
			}
			done <- out
		}()
		out.val, out.err = executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[R]) (R, error) {
			return fn(exec.Context())
		})
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	var zero R
	select {
	case out := <-done:
		if out.panicked {
			panic(out.panicVal)
		}
		return out.val, out.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// RunWithTimeout is WithTimeout for calls that only return an error.
func RunWithTimeout(ctx context.Context, limit time.Duration, fn func(ctx context.Context) error) error {
	_, err := WithTimeout(ctx, limit, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
