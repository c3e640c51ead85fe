package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides IsRetryable.
	RetryableFunc func(error) bool
}

// DefaultRetry suits collaborator calls.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// ConflictRetry suits optimistic writes that lost a race: retry quickly,
// only on conflicts.
var ConflictRetry = RetryConfig{
	MaxAttempts:    4,
	InitialBackoff: 5 * time.Millisecond,
	MaxBackoff:     100 * time.Millisecond,
	BackoffFactor:  2.0,
	Jitter:         0.2,
	RetryableFunc:  IsConflict,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent retrying.
	Duration time.Duration
}

// WithRetryContext executes fn until it succeeds, returns a non-retryable
// error, runs out of attempts, or ctx is done.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	maxAttempts := max(cfg.MaxAttempts, 1)

	fail := func(err error, attempts int, note string) RetryResult[T] {
		cat := Categorize(err)
		if ctx.Err() != nil && err == ctx.Err() {
			cat = CategoryPermanent
		}
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: cat, Attempts: attempts, Context: note},
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(err, attempt-1, "context cancelled")
		}

		value, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: value, Attempts: attempt, Duration: time.Since(start)}
		}
		lastErr = err
		if !retryable(err) {
			return fail(err, attempt, "")
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(jittered(backoff, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(ctx.Err(), attempt, "context cancelled during backoff")
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fail(lastErr, maxAttempts, "max retries exceeded")
}

// jittered returns base +/- (base * jitter * random).
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}
