package loam

import (
	"context"
	"errors"
	"time"
)

// Backoff selects how the delay between retry attempts grows.
type Backoff uint8

// Backoff strategies.
const (
	// BackoffFixed waits the configured delay between every attempt.
	BackoffFixed Backoff = iota
	// BackoffExponential waits delay * 2^(attempt-1) before attempt+1.
	BackoffExponential
)

// RetryOptions configures the retry wrapper around a mutating
// operation. Retries are opt-in per call chain.
type RetryOptions struct {
	// Attempts is the total attempt budget, including the first call.
	Attempts int
	// Backoff selects fixed or exponential delay growth.
	Backoff Backoff
	// Delay is the base delay between attempts.
	Delay time.Duration
	// Ignore suppresses the terminal error: when every attempt fails,
	// the operation reports a zero-effect result instead of an error.
	Ignore bool
}

// delay returns the wait before the attempt following the given
// 1-based attempt number.
func (o *RetryOptions) delay(attempt int) time.Duration {
	if o.Backoff == BackoffExponential {
		return o.Delay << (attempt - 1)
	}
	return o.Delay
}

// retryDo invokes fn up to the attempt budget, sleeping between
// attempts. The terminal failure is a RetryExhaustedError wrapping the
// last error, or nil under Ignore. Context cancellation stops the loop
// between attempts.
func retryDo(ctx context.Context, opts *RetryOptions, fn func() error) error {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if last = fn(); last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(opts.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			if opts.Ignore {
				return nil
			}
			return &RetryExhaustedError{Attempts: attempt, wrap: errors.Join(last, ctx.Err())}
		case <-timer.C:
		}
	}
	if opts.Ignore {
		return nil
	}
	return &RetryExhaustedError{Attempts: attempts, wrap: last}
}

// raceTimeout races fn against d. If the timer fires first the caller
// receives ErrTimedOut, but fn keeps running to completion in the
// background: the engine has no statement cancellation, so this is a
// bound on caller latency, not a guarantee of resource reclamation.
func raceTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrTimedOut
	}
}
