package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/emmanuel-dcoder/shopping-api/internal/config"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable: Do returns the wrapped
// error immediately instead of burning the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to retryPolicy.Attempts times with exponential backoff
// and jitter between attempts. It stops early on success, on a
// Permanent error, or when the context is cancelled. The last error is
// returned when the bound is exhausted.
func Do(ctx context.Context, retryPolicy config.Retry, fn func() error) error {
	d := retryPolicy.Base
	var err error

	// fn must run at least once even under a zero/negative bound, so a
	// misconfigured policy degrades to "no retries" instead of silently
	// succeeding without doing anything.
	attempts := retryPolicy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts-1 {
			break
		}

		delay := d
		if retryPolicy.JitterFactor > 0 {
			jitter := 1 + retryPolicy.JitterFactor*(2*r.Float64()-1)
			delay = time.Duration(float64(delay) * jitter)
		}
		if retryPolicy.Max > 0 && delay > retryPolicy.Max {
			delay = retryPolicy.Max
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		d *= 2
		if retryPolicy.Max > 0 && d > retryPolicy.Max {
			d = retryPolicy.Max
		}
	}
	return err
}
