// Package sanitize implements C11: stripping sensitive headers, credentials,
// and secret-pattern substrings from anything destined for the Notifier.
// It wraps the shared infrastructure/redaction.Redactor, grounded on the
// original security_utils.py sanitize_* functions, with the DB-connection-
// string and header/URL handling that package doesn't cover.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/flowlane/pulsefeed/infrastructure/redaction"
)

const mask = "***"
const defaultMaxDepth = 3
const defaultMaxTracebackLines = 15

var redactor = redaction.NewRedactor(redaction.DefaultConfig())

// dbURLPattern masks the userinfo of a database connection string, which
// the generic key=value redactor can't express.
var dbURLPattern = regexp.MustCompile(`(?i)(postgresql|postgres|mysql|mongodb|redis)://[^:/@\s]+:[^@\s]+@`)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"api-key":             true,
	"token":               true,
	"apikey":              true,
	"session":             true,
	"x-session-id":        true,
	"x-csrf-token":        true,
	"proxy-authorization": true,
}

var sensitiveHeaderSubstrings = []string{"auth", "token", "key", "secret", "password"}

var sensitiveQueryParamSubstrings = []string{"token", "key", "secret", "password", "auth"}

// Headers drops any header whose name matches the built-in sensitive set or
// contains a sensitive substring. Additional configured patterns (names
// matching any of extraPatterns) are also dropped.
func Headers(headers map[string][]string, extraPatterns []string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if isSensitiveHeaderName(name, extraPatterns) {
			continue
		}
		out[name] = values
	}
	return out
}

func isSensitiveHeaderName(name string, extraPatterns []string) bool {
	lower := strings.ToLower(name)
	if sensitiveHeaders[lower] {
		return true
	}
	for _, sub := range sensitiveHeaderSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	for _, pattern := range extraPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// URL replaces the values of sensitive-looking query parameters with ***,
// preserving the rest of the URL (including unparsable ones, returned
// unchanged rather than dropped).
func URL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := parsed.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		for _, sub := range sensitiveQueryParamSubstrings {
			if strings.Contains(lower, sub) {
				q.Set(key, mask)
				changed = true
				break
			}
		}
	}
	if changed {
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// String masks database connection-string credentials, then delegates to
// the shared Redactor for generic key=value secrets, bearer tokens, and
// bare AWS access key ids.
func String(s string) string {
	s = dbURLPattern.ReplaceAllString(s, "$1://***:***@")
	return redactor.RedactString(s)
}

// Dict walks a generic decoded-JSON-shaped value (map[string]interface{},
// []interface{}, or scalar), masking sensitive map keys and scrubbing
// string leaves, up to maxDepth levels of nesting (default 3). Nesting
// beyond maxDepth is left untouched rather than scrubbed, matching the
// bounded-recursion shape the spec calls for on attacker-controlled detail
// payloads.
func Dict(value interface{}, maxDepth int) interface{} {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return sanitizeValue(value, maxDepth)
}

func sanitizeValue(value interface{}, depthRemaining int) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if depthRemaining <= 0 {
			return v
		}
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = sanitizeValue(val, depthRemaining-1)
		}
		return redactor.RedactMap(out)
	case []interface{}:
		if depthRemaining <= 0 {
			return v
		}
		out := make([]interface{}, len(v))
		for i, el := range v {
			out[i] = sanitizeValue(el, depthRemaining-1)
		}
		return out
	case string:
		return String(v)
	default:
		return v
	}
}

// Traceback trims a traceback to maxLines (default 15 when <= 0) and applies
// String to each remaining line.
func Traceback(lines []string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = defaultMaxTracebackLines
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = String(line)
	}
	return out
}
