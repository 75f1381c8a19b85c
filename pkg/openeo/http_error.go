package openeo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openeo-contrib/raster-regression/pkg/redact"
)

// errorEnvelope is the standard error shape used by openEO backends.
// Real responses may include a "links" array and more; we intentionally ignore them.
type errorEnvelope struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is a sanitized summary of a non-2xx backend response.
//
// Important: do not include raw response bodies here (can leak tokens/PII).
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Code       string
	InstanceID string

	// Snippet is a redacted, truncated hint for non-envelope responses.
	Snippet string
}

func (e *APIError) Error() string {
	if e == nil {
		return "openeo api error"
	}
	parts := []string{
		fmt.Sprintf("openeo api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Code) != "" {
		parts = append(parts, "code="+strings.TrimSpace(e.Code))
	}
	if strings.TrimSpace(e.InstanceID) != "" {
		parts = append(parts, "instance="+strings.TrimSpace(e.InstanceID))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newAPIError(op string, resp *http.Response, body []byte) error {
	e := &APIError{Op: op}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Status = resp.Status
	}

	// Best effort: parse the openEO error envelope.
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		e.Code = strings.TrimSpace(env.Code)
		e.InstanceID = strings.TrimSpace(env.ID)
		if e.Code != "" || e.InstanceID != "" {
			return e
		}
	}

	e.Snippet = redactAndTruncate(body)
	return e
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
