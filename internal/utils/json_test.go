// internal/utils/json_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "markdown fenced",
			raw:  "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "leading prose",
			raw:  "Here is the result you asked for:\n{\"a\": [1, 2]} hope that helps",
			want: `{"a": [1, 2]}`,
		},
		{
			name: "array payload",
			raw:  "sure: [\"x\", \"y\"] done",
			want: `["x", "y"]`,
		},
		{
			name: "braces inside strings",
			raw:  `{"text": "use { and } freely"}`,
			want: `{"text": "use { and } freely"}`,
		},
		{
			name: "zero-width characters stripped",
			raw:  "\ufeff{\"a\":​ 1}",
			want: `{"a": 1}`,
		},
		{
			name: "no json at all",
			raw:  "I cannot answer that.",
			want: "",
		},
		{
			name: "unterminated object",
			raw:  `{"a": 1`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanModelJSON(tt.raw))
		})
	}
}
