package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/fireshield/fsclient/internal/apiclient"
)

// Describe turns a client error into the line shown next to stale data.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		httpErr      *apiclient.HTTPError
		decodeErr    *apiclient.DecodeError
		transportErr *apiclient.TransportError
	)
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		return "Session expired. Please sign in again."
	case errors.Is(err, apiclient.ErrUnauthenticated):
		return "Not signed in."
	case errors.Is(err, context.Canceled):
		return "Refresh cancelled."
	case errors.Is(err, apiclient.ErrTimeout):
		return "Network error. Pull to retry."
	case errors.As(err, &transportErr):
		return "Network error. Pull to retry."
	case errors.As(err, &httpErr):
		if httpErr.Body != "" {
			return fmt.Sprintf("Server error (HTTP %d): %s", httpErr.StatusCode, httpErr.Body)
		}
		return fmt.Sprintf("Server error (HTTP %d).", httpErr.StatusCode)
	case errors.As(err, &decodeErr):
		return "Unexpected response from server: " + decodeErr.Detail
	default:
		return err.Error()
	}
}

// DescribeLogin is Describe for a failed sign-in, where 401 means bad credentials.
func DescribeLogin(err error) string {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return "Invalid email or password."
	}
	return Describe(err)
}
