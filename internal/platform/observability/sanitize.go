package observability

import (
	"strings"
	"unicode"
)

// Log fields assembled from request data pass through here before they reach
// zap, so a hostile path or header cannot smuggle control bytes into the
// structured output.

const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

func stripControl(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if n >= limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds a chi route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripControl(route, maxRouteLen)
}

// SanitizeMethod bounds an HTTP method for logging.
func SanitizeMethod(method string) string {
	return stripControl(method, maxMethodLen)
}

// SanitizeUserID bounds a user identifier for logging. IDs here are
// ulid-derived (usr_ prefix) so anything longer is already suspect.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return stripControl(uid, maxUserIDLen)
}
