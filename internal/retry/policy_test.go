package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func TestPolicyRetriesTransientThenSucceeds(t *testing.T) {
	p := Policy{MaxAttempts: 2, Retryable: transientOnly}
	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("expected attempt %d, got %d", calls, attempt)
		}
		if attempt == 1 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestPolicyExhaustionKeepsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 2, Retryable: transientOnly}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected underlying error to be preserved, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 2 {
		t.Fatalf("expected ExhaustedError with 2 attempts, got %#v", err)
	}
}

func TestPolicyDoesNotRetryNonRetryable(t *testing.T) {
	p := Policy{MaxAttempts: 3, Retryable: transientOnly}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errFatal
	})
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
	if !errors.Is(err, errFatal) || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected bare fatal error, got %v", err)
	}
}

func TestPolicyNeverMakesOneAttempt(t *testing.T) {
	calls := 0
	err := Never.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})
	if calls != 1 || !errors.Is(err, errTransient) {
		t.Fatalf("expected one attempt returning transient, got calls=%d err=%v", calls, err)
	}
}

func TestPolicyStopsWhenContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Delay: time.Hour, Retryable: transientOnly}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context, int) error {
			calls++
			return errTransient
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("policy did not observe cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected one attempt before cancellation, got %d", calls)
	}
}
