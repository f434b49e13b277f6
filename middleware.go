package keelson

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// RetryIf selects retryable errors. Nil retries everything except
	// codec errors, which fail the same way on every attempt.
	RetryIf func(err error) bool
	// Jitter adds a random delay in [0, Jitter) to each backoff.
	Jitter time.Duration
}

// RetryMiddleware re-invokes a failing handler in-process. Transports do not
// redeliver samples.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := cfg.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return !IsCodecError(err) }
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rx *Received) error {
			var lastErr error
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, rx)
				if lastErr == nil {
					return nil
				}
				if ctx.Err() != nil || i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff == nil {
					continue
				}
				wait := cfg.Backoff(i)
				if cfg.Jitter > 0 {
					wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
				}
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return lastErr
				case <-t.C:
				}
			}
			return lastErr
		}
	}
}

// TimeoutMiddleware bounds handler run time. On expiry the handler's context
// is canceled and context.DeadlineExceeded is returned without waiting for
// the handler to notice.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, rx *Received) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
					}
				}()
				errCh <- next(tctx, rx)
			}()

			select {
			case <-tctx.Done():
				if errors.Is(tctx.Err(), context.DeadlineExceeded) {
					return context.DeadlineExceeded
				}
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into ErrHandlerPanic.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rx *Received) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, rx)
		}
	}
}

// Chain composes middlewares around a handler; the first middleware is the
// outermost. Nil entries are skipped.
func Chain(h Handler, mws ...Middleware) Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
