// Package retry centralizes the exponential-backoff-with-jitter policy so
// stage workers stop sprinkling ad-hoc retry loops across the codebase.
// Every stage worker shares one Policy instance instead of
// re-implementing backoff inline.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy is exponential backoff with jitter, max MaxAttempts tries.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// Default is the package's suggested default: max 3 attempts.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Classifier reports whether an error from an attempt is worth retrying.
// Stage workers pass internal/apierrors.IsRetryable (4xx other than 429 are
// terminal; 429 and 5xx retry).
type Classifier func(error) bool

// ErrExhausted wraps the last error once MaxAttempts is reached.
type ErrExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrExhausted) Error() string {
	return e.Last.Error()
}

func (e *ErrExhausted) Unwrap() error { return e.Last }

// Do runs fn up to p.MaxAttempts times, sleeping with exponential backoff
// and jitter between retryable failures. It returns immediately (without
// retrying) the first time fn succeeds, classify(err) is false, or ctx is
// cancelled.
func (p Policy) Do(ctx context.Context, classify Classifier, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return &ErrExhausted{Attempts: p.MaxAttempts, Last: lastErr}
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	return delay/2 + jitter
}

// AlwaysRetry is a Classifier that retries every non-nil error; useful for
// collaborators whose errors are already pre-filtered to retryable-only.
func AlwaysRetry(err error) bool { return err != nil }

// IsExhausted reports whether err is an ErrExhausted produced by Do.
func IsExhausted(err error) bool {
	var exhausted *ErrExhausted
	return errors.As(err, &exhausted)
}
