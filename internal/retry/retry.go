// Package retry implements the explicit backoff policy applied to upstream
// read calls and store writes. The policy is plain data so callers inject
// zero-delay variants in tests instead of sleeping.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately instead of retrying.
// Use it for errors that cannot succeed on a later attempt, such as
// not-found lookups or validation failures.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy describes an exponential backoff schedule.
type Policy struct {
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Factor multiplies the delay after every failed attempt.
	Factor float64

	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration

	// MaxAttempts bounds the total number of attempts (first try included).
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Jitter, when true, randomises each delay uniformly in
	// [delay/2, delay) to avoid synchronized retry bursts.
	Jitter bool
}

// Default returns the production policy: 500ms base, doubling, 10s cap,
// five attempts, jittered.
func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2.0,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
		Jitter:      true,
	}
}

// None returns a single-attempt, zero-delay policy for tests.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns the wait applied after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter && d > 0 {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned unwrapped so callers can inspect it.
// Context cancellation during a backoff sleep returns ctx.Err().
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts-1 {
			break
		}
		if sleepErr := sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation between zero-delay attempts.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
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
