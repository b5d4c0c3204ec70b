package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fireshield/fsclient/internal/retry"
)

var (
	// ErrUnauthenticated: an authenticated call was made with no credential.
	ErrUnauthenticated = errors.New("unauthenticated: no credential present")
	// ErrUnauthorized: the server rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized (401)")
	// ErrTimeout: the retry budget was spent. The last real error is wrapped too.
	ErrTimeout = retry.ErrExhausted
)

// HTTPError is a non-2xx, non-401 response.
type HTTPError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Body)
	}
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// DecodeError is a 2xx response whose body did not match the expected shape.
type DecodeError struct {
	Detail string
	Body   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("decode error: %s (raw: %s)", e.Detail, e.Body)
}

// TransportError means no response was obtained.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "transport error"
	}
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable classifies errors for the client's retry policy: transport
// failures and 5xx/408/429 responses. A cancelled caller context is final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	return false
}
