// Package retry provides the single bounded-retry primitive shared by every
// boundary call that is allowed to retry (confirmation polling, login).
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Delay(attempt) is the wait before the given
// attempt; attempt 0 runs immediately.
type Policy interface {
	Attempts() int
	Delay(attempt int) time.Duration
}

// Fixed runs Count attempts with the same literal delay between each.
type Fixed struct {
	Count int
	Wait  time.Duration
}

// Attempts returns the attempt budget.
func (f Fixed) Attempts() int { return f.Count }

// Delay returns the fixed per-attempt wait.
func (f Fixed) Delay(int) time.Duration { return f.Wait }

// Backoff runs Count attempts with exponential backoff capped at Max.
type Backoff struct {
	Count   int
	Initial time.Duration
	Max     time.Duration
	Mult    float64
}

// Attempts returns the attempt budget.
func (b Backoff) Attempts() int { return b.Count }

// Delay returns the wait before the given attempt, doubling (by Mult)
// each time and capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Mult)
		if d > b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Do runs fn until it returns nil, the policy is exhausted, or ctx is done.
// The last error is wrapped in the exhaustion error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.Attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt)):
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("attempts exhausted after %d tries: %w", p.Attempts(), lastErr)
}
