package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (OIDC JWTs and opaque backend tokens). Keep it
	// broad: tokens show up in logs via HTTP error messages and asset URLs.
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	credentialKVRe = regexp.MustCompile(`(?i)\b(access[_-]?token|client[_-]?secret|api[_-]?key)\b\s*[:=]\s*[^\s"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
//
// This is intentionally conservative: it should be safe to call on any message,
// including upstream error strings and backend response snippets.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = credentialKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
