package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizePlain strips all markup from value, decodes entities and collapses whitespace.
// The result is safe to print on a garment or render in a timeline.
func SanitizePlain(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// SanitizeLimit sanitizes value and truncates it to at most max runes.
func SanitizeLimit(value string, max int) string {
	cleaned := SanitizePlain(value)
	if max <= 0 || utf8.RuneCountInString(cleaned) <= max {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:max]))
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
