package security

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	secretKeyExpr        = `(?:password|passwd|secret|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)`
	kvSecretPattern      = regexp.MustCompile(`(?i)(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"',}]+)`)
	jsonSecretPattern    = regexp.MustCompile(`(?i)("` + secretKeyExpr + `"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	authorizationPattern = regexp.MustCompile(`(?i)(authorization\s*:\s*)[^\r\n]+`)
	bearerTokenPattern   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	cookiePattern        = regexp.MustCompile(`(?i)(cookie\s*:\s*)[^\r\n]+`)
)

// DefaultBodyLimit bounds response bodies kept for diagnostics.
const DefaultBodyLimit = 2048

// RedactPayload masks credentials that a server response or request dump
// may echo back: JSON token/password fields, key=value secrets,
// Authorization and Cookie headers, and bare bearer tokens.
func RedactPayload(input string) string {
	if input == "" {
		return ""
	}
	out := jsonSecretPattern.ReplaceAllString(input, `${1}"[REDACTED]"`)
	out = kvSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		if strings.Contains(match, "[REDACTED]") {
			return match
		}
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return "[REDACTED]"
		}
		return match[:idx+1] + " [REDACTED]"
	})
	out = authorizationPattern.ReplaceAllString(out, `${1}[REDACTED]`)
	out = bearerTokenPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	out = cookiePattern.ReplaceAllString(out, `${1}[REDACTED]`)
	return out
}

// RedactBody redacts a response body and truncates it to limit bytes on a
// rune boundary. A limit <= 0 means DefaultBodyLimit.
func RedactBody(body []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	text := strings.TrimSpace(string(body))
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = RedactPayload(text)
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…(truncated)"
}

// MaskToken keeps a short prefix so log lines can correlate a credential
// without exposing it.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
