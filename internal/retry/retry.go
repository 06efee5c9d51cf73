// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Policy controls Do. MaxAttempts counts the first call; values below one
// mean a single attempt.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Jitter is a fraction in [0,1) applied as +/- to each sleep.
	Jitter float64
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) || attempt+1 >= attempts {
			return err
		}

		t := time.NewTimer(Backoff(p.Initial, p.Max, p.Jitter, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Backoff returns the sleep before retry number attempt (zero based).
func Backoff(initial, maxSleep time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < maxSleep; i++ {
		sleep *= 2
		if sleep > maxSleep {
			sleep = maxSleep
			break
		}
	}
	if maxSleep > 0 && sleep > maxSleep {
		sleep = maxSleep
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
