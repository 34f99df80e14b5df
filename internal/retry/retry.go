// Package retry wraps single external-service calls (transcription,
// synthesis, analysis) with per-attempt deadlines, bounded attempts and
// backoff.
//
// Failure classification:
//   - transient (network/timeout): retried until the attempt budget runs out.
//   - non-retryable (bad request, bad credentials): aborts immediately
//     without consuming the remaining budget.
//
// Exhaustion surfaces as *ExhaustedError; nothing escapes unclassified.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type Backoff int

const (
	BackoffFixed Backoff = iota
	BackoffExponential
)

// Policy controls one wrapped call. Services get their own policies from
// config; notably non-English transcription carries a longer attempt
// deadline because it is empirically slower.
type Policy struct {
	// Op names the wrapped call in errors and logs (e.g. "stt.transcribe").
	Op string

	MaxAttempts    int
	AttemptTimeout time.Duration

	Backoff   Backoff
	BaseDelay time.Duration

	// sleep is injectable for tests; nil means a real timer.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithSleep returns a copy of the policy using fn between attempts.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

func (p Policy) withDefaults() Policy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 500 * time.Millisecond
	}
	if out.sleep == nil {
		out.sleep = sleepCtx
	}
	return out
}

// delay returns the pause before attempt n (n starts at 1 for the retry
// after the first failure).
func (p Policy) delay(n int) time.Duration {
	if p.Backoff == BackoffFixed {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// TransientError marks a failure worth retrying (network errors, vendor
// 5xx, rate limits). Services tag errors at the boundary.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// NonRetryableError marks a failure retrying cannot fix (malformed request,
// authentication).
type NonRetryableError struct {
	Op  string
	Err error
}

func (e *NonRetryableError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// ExhaustedError is returned once the attempt budget is spent.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: exhausted %d attempts: %v", e.Op, e.Attempts, e.Last)
}
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retryable classifies an error. Timeouts and tagged transient errors are
// retryable; tagged non-retryable errors and everything else are not.
func Retryable(err error) bool {
	var nr *NonRetryableError
	if errors.As(err, &nr) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Do runs op under the policy. Each attempt gets its own deadline derived
// from ctx. The parent ctx being canceled stops everything immediately.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		out, err := op(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		last = err

		if !Retryable(err) {
			var nr *NonRetryableError
			if errors.As(err, &nr) {
				return zero, err
			}
			return zero, &NonRetryableError{Op: p.Op, Err: err}
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Op: p.Op, Attempts: p.MaxAttempts, Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
