// Package retry runs fallible operations under a bounded attempt budget
// with a pluggable backoff.
package retry

import (
	"context"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultBase     = 100 * time.Millisecond
)

// Backoff returns how long to wait after the given failed attempt
// (1-based) before trying again.
type Backoff func(attempt int) time.Duration

// Linear waits base×attempt: 100ms, 200ms, 300ms for the default base.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Policy bounds how often an operation is attempted.
type Policy struct {
	// MaxAttempts counts the first try. Values below 1 are treated as 1.
	MaxAttempts int
	Backoff     Backoff
	// Retryable classifies errors; nil retries every error.
	Retryable func(error) bool
	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns the policy used for the database write path.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultAttempts,
		Backoff:     Linear(DefaultBase),
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the
// attempt budget is spent, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return err
		}
	}

	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})

	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
