// Package retry runs operations with a bounded attempt count and fixed
// spacing. Transient network failures against a server are retried a small
// number of times; anything else stops the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults used by token and certificate calls.
const (
	DefaultAttempts = 5
	DefaultDelay    = time.Second
)

// NetworkError reports that an operation failed on every attempt.
type NetworkError struct {
	// Op names the failed operation.
	Op string

	// Attempts is how many attempts were made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

// Error implements error.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the final attempt's error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// permanentError wraps an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-transient; Do stops and returns the
// wrapped error as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to attempts times with the given fixed delay between
// attempts. Cancellation is re-checked before every attempt and during the
// delay, and propagates as the context error. When all attempts fail the
// result is a *NetworkError wrapping the last error.
func Do(ctx context.Context, attempts int, delay time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
	}

	return &NetworkError{Op: op, Attempts: attempts, Err: last}
}
