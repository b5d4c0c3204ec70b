// Package retry holds the bounded retry policy used by the API client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is matched by the error returned when every attempt failed
// with a retryable error. The last underlying error stays reachable through
// errors.As/errors.Is.
var ErrExhausted = errors.New("retry budget exhausted")

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Policy bounds how often an operation is attempted.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   Classifier
}

// Never is a policy with a single attempt.
var Never = Policy{MaxAttempts: 1}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. attempt is 1-based.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.attempts()
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}
	backoff := goretry.WithMaxRetries(uint64(maxAttempts-1), goretry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	}))

	attempt := 0
	var last error
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		if p.Retryable != nil && p.Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if last != nil && attempt >= maxAttempts && p.Retryable != nil && p.Retryable(last) {
		return &ExhaustedError{Attempts: attempt, Last: last}
	}
	return err
}

// ExhaustedError wraps the final error of a spent retry budget.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}
