package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and surrounding whitespace from free text such as order notes.
func SanitizeText(value string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(value))
}

// NormalizeStringMap sanitizes keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		cleanKey := SanitizeText(key)
		if cleanKey == "" {
			continue
		}
		result[cleanKey] = SanitizeText(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
