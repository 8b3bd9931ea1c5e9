// internal/utils/text_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountWords(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   int
	}{
		{"empty", "", 0},
		{"plain text", "the quick brown fox", 4},
		{"simple paragraph", "<p>hello world</p>", 2},
		{"adjacent blocks stay separated", "<p>one</p><p>two</p>", 2},
		{"inline markup", "he said <em>loudly</em> that", 4},
		{"entities are not words", "fish &amp; chips", 2},
		{"only markup", "<p><br/></p>", 0},
		{"extra whitespace", "  a \n b\t c  ", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountWords(tt.markup))
		})
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("   "))
	assert.True(t, IsBlank("<p></p>"))
	assert.False(t, IsBlank("<p>x</p>"))
}
