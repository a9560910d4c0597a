// Package retry retries storage calls that fail transiently.
//
// Store errors that describe the request rather than the backend
// (not found, duplicate, bad credentials, bad id) are permanent and returned
// after the first attempt, as are context errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// Policy configures retry behavior. Zero fields take the DefaultPolicy values.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int

	// BaseDelay is the wait before the second attempt. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Jitter spreads each wait by +/- this fraction (0..1).
	Jitter float64

	// Retryable reports whether err may succeed on another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns three attempts starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    0.2,
		Retryable: IsTransient,
	}
}

// ErrExhausted is matched by errors returned after every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Error reports the last failure after the policy gave up.
type Error struct {
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap exposes both the cause and ErrExhausted to errors.Is.
func (e *Error) Unwrap() []error {
	return []error{e.Cause, ErrExhausted}
}

// Do calls fn until it succeeds, returns a permanent error, or the policy is
// exhausted. Permanent errors are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, &Error{Attempts: attempt, Cause: errors.Join(lastErr, ctx.Err())}
		case <-t.C:
		}
	}
	return zero, &Error{Attempts: p.Attempts, Cause: lastErr}
}

// IsTransient treats everything except permanent store errors and context
// errors as retryable.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case store.IsNotFound(err), store.IsDuplicateEntry(err), store.IsInvalidID(err),
		store.IsInvalidCredentials(err), store.IsNotConnected(err):
		return false
	}
	return true
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the wait after the given (1-based) failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}
