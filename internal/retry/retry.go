// Package retry implements the capped, time-bounded retry policy shared
// by every external call site. No unbounded retry loop exists anywhere.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// sleepFunc is the sleep used between retries (injectable for tests).
// It must honor context cancellation.
var sleepFunc = sleepContext

// Policy describes exponential backoff with jitter for transient failures.
type Policy struct {
	Ceiling int           // max retries per call; 0 means no retries
	Base    time.Duration // first backoff delay
	Factor  float64       // multiplier per retry
	Jitter  float64       // symmetric jitter fraction, e.g. 0.2 for ±20%
}

// DefaultPolicy returns the standard policy: 3 retries, base 1s,
// factor 2, jitter ±20%.
func DefaultPolicy() Policy {
	return Policy{
		Ceiling: 3,
		Base:    time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Do runs fn, retrying transient failures up to the ceiling with
// exponential backoff. Non-transient failures return immediately.
// Cancellation is observed during backoff sleeps.
func (p Policy) Do(ctx context.Context, transient func(error) bool, fn func(context.Context) error) error {
	var err error
	for try := 0; ; try++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if try >= p.Ceiling {
			return err
		}

		if sleepErr := sleepFunc(ctx, p.Backoff(try)); sleepErr != nil {
			return sleepErr
		}
	}
}

// Backoff returns the delay before retry number try (0-based).
func (p Policy) Backoff(try int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < try; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		// Uniform in [1-jitter, 1+jitter].
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
