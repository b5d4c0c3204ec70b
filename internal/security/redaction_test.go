package security_test

import (
	"strings"
	"testing"

	"github.com/fireshield/fsclient/internal/security"
)

func TestRedactPayload(t *testing.T) {
	in := `token=abc123 access_token="quoted-token" password:supersecret Authorization: Bearer eyJhbGci {"token":"jsonsecret","password":"hunter2","userId":"u-1"}`
	out := security.RedactPayload(in)
	for _, leaked := range []string{"abc123", "quoted-token", "supersecret", "eyJhbGci", "jsonsecret", "hunter2"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("secret %q leaked after redaction: %q", leaked, out)
		}
	}
	if !strings.Contains(out, `"userId":"u-1"`) {
		t.Fatalf("expected non-secret field to survive: %q", out)
	}
}

func TestRedactPayloadBareBearer(t *testing.T) {
	out := security.RedactPayload("upstream said: bearer tokenxyz rejected")
	if strings.Contains(out, "tokenxyz") {
		t.Fatalf("bearer token leaked: %q", out)
	}
}

func TestRedactBodyTruncates(t *testing.T) {
	body := []byte(strings.Repeat("é", 50))
	out := security.RedactBody(body, 11)
	if !strings.HasSuffix(out, "…(truncated)") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
	if strings.ContainsRune(strings.TrimSuffix(out, "…(truncated)"), '�') {
		t.Fatalf("truncation split a rune: %q", out)
	}
	if got := security.RedactBody([]byte("  short  "), 0); got != "short" {
		t.Fatalf("expected trimmed short body, got %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	if got := security.MaskToken(""); got != "" {
		t.Fatalf("expected empty mask for empty token, got %q", got)
	}
	if got := security.MaskToken("abc"); got != "****" {
		t.Fatalf("expected short token fully masked, got %q", got)
	}
	if got := security.MaskToken("abcdefghijkl"); got != "abcd****" {
		t.Fatalf("unexpected mask: %q", got)
	}
}
