package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePlaceholders(t *testing.T) {
	uploads := []string{"report.pdf", "data.csv"}

	tests := []struct {
		name     string
		prompt   string
		uploads  []string
		expected string
	}{
		{
			name:     "exact upload match",
			prompt:   "summarize {{report.pdf}} please",
			uploads:  uploads,
			expected: "summarize ./files/report.pdf please",
		},
		{
			name:     "generic filename token expands to all uploads",
			prompt:   "look at {{filename}}",
			uploads:  uploads,
			expected: "look at ./files/report.pdf ./files/data.csv",
		},
		{
			name:     "unmatched token stays literal",
			prompt:   "use {{missing.txt}} here",
			uploads:  uploads,
			expected: "use {{missing.txt}} here",
		},
		{
			name:     "no uploads is a no-op",
			prompt:   "use {{report.pdf}}",
			uploads:  nil,
			expected: "use {{report.pdf}}",
		},
		{
			name:     "no tokens is a no-op",
			prompt:   "plain prompt",
			uploads:  uploads,
			expected: "plain prompt",
		},
		{
			name:     "multiple tokens in one prompt",
			prompt:   "{{report.pdf}} and {{data.csv}}",
			uploads:  uploads,
			expected: "./files/report.pdf and ./files/data.csv",
		},
		{
			name:     "upload named filename wins over generic token",
			prompt:   "{{filename}}",
			uploads:  []string{"filename"},
			expected: "./files/filename",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolvePlaceholders(tt.prompt, tt.uploads))
		})
	}
}
