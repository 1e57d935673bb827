package observability

import (
	"strings"
	"unicode"
)

// Log fields derived from request data pass through here so header and path
// payloads cannot inject control sequences into the log stream.

const maxFieldRunes = 256

// sanitizeString drops control characters and truncates the result to limit
// runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}
	kept := 0
	return strings.Map(func(r rune) rune {
		switch {
		case kept >= limit:
			return -1
		case unicode.IsControl(r):
			return -1
		default:
			kept++
			return r
		}
	}, value)
}

// SanitizeRoute bounds the logged route and never emits an empty path.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds the logged HTTP method.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID truncates identifiers so buyer and seller ids stay greppable
// without spilling whole tokens into logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
