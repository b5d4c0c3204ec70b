package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fireshield/fsclient/internal/apiclient"
	"github.com/fireshield/fsclient/internal/retry"
)

func TestDescribe(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unauthorized", fmt.Errorf("fetch: %w", apiclient.ErrUnauthorized), "Session expired. Please sign in again."},
		{"unauthenticated", apiclient.ErrUnauthenticated, "Not signed in."},
		{"exhausted", &retry.ExhaustedError{Attempts: 2, Last: &apiclient.HTTPError{StatusCode: 503}}, "Network error. Pull to retry."},
		{"transport", &apiclient.TransportError{Err: errors.New("dial tcp: refused")}, "Network error. Pull to retry."},
		{"cancelled", context.Canceled, "Refresh cancelled."},
		{"http", &apiclient.HTTPError{StatusCode: 400, Body: "bad hours"}, "Server error (HTTP 400): bad hours"},
		{"http without body", &apiclient.HTTPError{StatusCode: 404}, "Server error (HTTP 404)."},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Describe(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDescribeDecodeErrorIncludesDetail(t *testing.T) {
	got := Describe(fmt.Errorf("decode report: %w", &apiclient.DecodeError{Detail: "unexpected EOF", Body: "{"}))
	if !strings.Contains(got, "unexpected EOF") {
		t.Fatalf("expected decode detail in %q", got)
	}
}

func TestDescribeLoginMapsUnauthorized(t *testing.T) {
	if got := DescribeLogin(apiclient.ErrUnauthorized); got != "Invalid email or password." {
		t.Fatalf("unexpected login message %q", got)
	}
	if got := DescribeLogin(&apiclient.TransportError{Err: errors.New("x")}); got != "Network error. Pull to retry." {
		t.Fatalf("unexpected login network message %q", got)
	}
}
