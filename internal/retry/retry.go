// Package retry provides a bounded exponential backoff policy with a
// caller-supplied retry predicate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt failed with a retryable error
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context ends before or between attempts
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Policy configures retry behavior
type Policy struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt
	BaseDelay time.Duration
	// Multiplier grows the wait after each further failure
	Multiplier float64
	// MaxDelay caps a single wait
	MaxDelay time.Duration
	// IsRetryable decides whether an attempt error is worth another attempt.
	// Nil retries every error.
	IsRetryable func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy returns 3 attempts waiting 4s then 8s, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do calls fn until it returns nil, returns a non-retryable error, or
// MaxAttempts is reached. It returns the number of attempts made.
//
// Waits are interrupted by ctx: the returned error then wraps both
// ErrContextCancelled and ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, maxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
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
