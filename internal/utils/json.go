// internal/utils/json.go
package utils

import (
	"strings"
	"unicode"
)

// CleanModelJSON extracts the JSON payload from a raw model completion.
// Models wrap JSON in markdown fences or prose despite instructions; this
// strips everything before the first { or [ and cuts at the matching
// closing bracket. Returns "" when no JSON object or array is present.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// Zero-width characters and stray control bytes break json.Unmarshal.
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return ""
	}
	s = s[start:]

	open := s[0]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case open:
			if !inString {
				balance++
			}
		case close:
			if !inString {
				balance--
				if balance == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}
