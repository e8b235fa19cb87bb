package core

import (
	"regexp"
	"strings"
)

// Precompiled patterns for common secret shapes in outputs and error strings.
var (
	kvSecretRe = regexp.MustCompile(
		`(?i)(password|passwd|pwd|token|api[_-]?key|key|secret|credential|authorization)\s*[=:]\s*\S+`,
	)
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	controlCharRe = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
)

// MaxOutputBytes caps stored step output values after redaction.
const MaxOutputBytes = 5000

// MaxErrorBytes caps stored error strings after redaction.
const MaxErrorBytes = 500

// RedactString scrubs secret-like key=value occurrences and bearer tokens.
func RedactString(s string) string {
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}

// RedactOutput redacts and truncates a value destined for a StepResult
// outputs map or the step cache.
func RedactOutput(s string) string {
	s = RedactString(s)
	if len(s) > MaxOutputBytes {
		s = s[:MaxOutputBytes]
	}
	return s
}

// RedactError redacts and truncates an error string for storage. Returns an
// empty string for a nil error.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	s := RedactString(err.Error())
	if len(s) > MaxErrorBytes {
		s = s[:MaxErrorBytes]
	}
	return s
}

// RedactMap returns a copy of m with string values redacted and truncated.
// Non-string scalar values pass through unchanged.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = RedactOutput(t)
		case int, int64, float64, bool, nil:
			out[k] = t
		case []string:
			redacted := make([]string, len(t))
			for i, s := range t {
				redacted[i] = RedactOutput(s)
			}
			out[k] = redacted
		case map[string]any:
			out[k] = RedactMap(t)
		default:
			out[k] = RedactOutput(stringify(t))
		}
	}
	return out
}

// SanitizeLogEntry strips control characters and caps length so audit entries
// cannot carry log-injection payloads.
func SanitizeLogEntry(entry string, maxLen int) string {
	entry = controlCharRe.ReplaceAllString(entry, "")
	if maxLen > 0 && len(entry) > maxLen {
		entry = entry[:maxLen]
	}
	return strings.TrimSpace(entry)
}
