// Package retry re-runs reads that failed for transient reasons, backing
// off exponentially with jitter between attempts. Repositories use it so
// a dropped connection or a failover does not surface as a failed report
// or simulation.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// transientError marks an error as safe to retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable for policies without a classifier.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Policy controls how often and how fast an operation is retried.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single call.
	Attempts int

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// Retryable classifies errors. Nil retries only errors marked Transient.
	Retryable func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(Attempt)
}

// ReadPolicy is the policy for repository reads: three quick attempts,
// retrying only what isTransient accepts.
func ReadPolicy(isTransient func(error) bool) Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		Jitter:     0.05,
		Retryable:  isTransient,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// delay is the wait after the given failed attempt, before jitter.
func (p Policy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	j := float64(d) * math.Min(p.Jitter, 1) * (rand.Float64()*2 - 1)
	return max(time.Duration(float64(d)+j), 0)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends. The error returned is always fn's last
// error with any Transient marker removed, or ctx's error when fn never ran.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = unmark(err)

		if n >= attempts || !p.retryable(err) {
			return last
		}

		wait := p.jittered(p.delay(n))
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Number: n, Err: last, Delay: wait})
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func unmark(err error) error {
	var te *transientError
	if errors.As(err, &te) && te == err {
		return te.err
	}
	return err
}
