// Package retry provides a bounded fixed-interval retry combinator.
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 20, Interval: 50 * time.Millisecond}, func(ctx context.Context) error {
//		return ping(ctx)
//	})
//	if errors.Is(err, retry.ErrExhausted) { ... }
//
// Unlike exponential backoff, every wait is the same Interval: the callers
// poll for a peer that is expected to become ready within a known window.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted is wrapped by the error returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Interval time.Duration

	// Logger, when set, receives one debug line per failed attempt.
	Logger *slog.Logger
	// Name identifies the loop in log lines.
	Name string
}

// ExhaustedError carries the attempt count and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: attempts exhausted after %d tries: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or Policy.Attempts calls have failed. Attempts <= 0 means a single call.
// The total wait is bounded by (Attempts-1) * Interval.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err

		if p.Logger != nil {
			p.Logger.DebugContext(ctx, "retry: attempt failed",
				"name", p.Name, "attempt", i+1, "max", attempts, "error", err)
		}
		if i == attempts-1 {
			break
		}
		if err := sleepCtx(ctx, p.Interval); err != nil {
			return fmt.Errorf("retry: %s: %w", p.Name, err)
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
