// internal/utils/text.go
package utils

import (
	"regexp"
	"strings"
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	entityPattern = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
)

// StripMarkup removes HTML tags and entities from editor markup, leaving
// plain text. Block tags become spaces so adjoining words stay separated.
func StripMarkup(markup string) string {
	text := tagPattern.ReplaceAllString(markup, " ")
	text = entityPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CountWords counts whitespace-separated words in editor markup after
// stripping tags.
func CountWords(markup string) int {
	text := StripMarkup(markup)
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

// IsBlank reports whether markup contains no visible text.
func IsBlank(markup string) bool {
	return StripMarkup(markup) == ""
}
