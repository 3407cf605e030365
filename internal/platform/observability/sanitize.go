package observability

import (
	"strings"
	"unicode"
)

// Field limits for request log entries. Order routes carry ids and actions such as
// /api/v1/orders/{orderID}/items/{itemID}:reduce, which fit well within routeLimit.
const (
	defaultStringLimit = 256
	routeLimit         = 180
	methodLimit        = 10
	staffIDLimit       = 64
)

// sanitizeString drops control characters other than whitespace and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	kept := 0
	return strings.Map(func(r rune) rune {
		if kept >= limit {
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		kept++
		return r
	}, value)
}

// SanitizeRoute bounds the path or chi route pattern logged for a request.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeStaffID bounds the Firebase uid or X-Staff-ID value attached to log entries.
// Trusted-header mode accepts the id verbatim from the client.
func SanitizeStaffID(uid string) string {
	return sanitizeString(strings.TrimSpace(uid), staffIDLimit)
}
