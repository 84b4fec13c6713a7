package title

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/faber/internal/common"
)

func cliSummarizer(command string, args ...string) *Summarizer {
	cfg := &common.ClaudeConfig{
		Command:     command,
		DefaultArgs: args,
		RateLimit:   "1ms",
	}
	return NewSummarizer(cfg, common.GetLogger())
}

func TestSummarizer_CLIMode(t *testing.T) {
	// /bin/echo prints the composed instruction+prompt back; the first line
	// becomes the title.
	s := cliSummarizer("/bin/echo")

	title, err := s.Summarize(context.Background(), "fix the flaky login test")
	require.NoError(t, err)
	assert.Equal(t, cleanTitle(instruction), title)
}

func TestSummarizer_EmptyPromptRejected(t *testing.T) {
	s := cliSummarizer("/bin/echo")

	_, err := s.Summarize(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSummarizer_CLIFailure(t *testing.T) {
	s := cliSummarizer("/bin/false")

	_, err := s.Summarize(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title CLI call failed")
}

func TestSummarizer_CancelledContext(t *testing.T) {
	s := cliSummarizer("/bin/echo")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Summarize(ctx, "prompt")
	assert.Error(t, err)
}

func TestSummarizer_LongPromptIsTruncated(t *testing.T) {
	s := cliSummarizer("/bin/echo")

	// A prompt past the excerpt cap must not blow up the CLI invocation.
	_, err := s.Summarize(context.Background(), strings.Repeat("a", 3*maxPromptExcerpt))
	require.NoError(t, err)
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Fix login bug", "Fix login bug"},
		{"surrounding whitespace", "  Fix login bug \n", "Fix login bug"},
		{"first line only", "Fix login bug\nand some rationale", "Fix login bug"},
		{"quotes stripped", `"Fix login bug"`, "Fix login bug"},
		{"trailing period stripped", "Fix login bug.", "Fix login bug"},
		{"overlong capped", strings.Repeat("word ", 40), strings.TrimSpace(strings.Repeat("word ", 40)[:maxTitleLen])},
		{"empty", "   \n\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanTitle(tt.raw))
		})
	}
}

func TestRateInterval(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, rateInterval("250ms"))
	assert.Equal(t, time.Second, rateInterval(""))
	assert.Equal(t, time.Second, rateInterval("not-a-duration"))
	assert.Equal(t, time.Second, rateInterval("-5s"))
}
