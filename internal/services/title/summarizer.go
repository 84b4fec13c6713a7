// -----------------------------------------------------------------------
// Title summarizer - short human titles derived from job prompts
// -----------------------------------------------------------------------

package title

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/faber/internal/common"
)

// DefaultTitle is used when summarization fails or produces nothing.
const DefaultTitle = "(untitled)"

// maxPromptExcerpt bounds how much of the prompt is sent for summarization.
const maxPromptExcerpt = 2000

// maxTitleLen truncates runaway model output.
const maxTitleLen = 80

const instruction = "Summarize the following request as a short title of at most eight words. Reply with the title only, no quotes."

// callTimeout bounds a single summarization call in either mode.
const callTimeout = 30 * time.Second

// Summarizer derives short job titles. When an API key is configured it
// calls the Anthropic API directly; otherwise it falls back to a one-shot
// invocation of the assistant CLI. Calls are rate limited so a burst of job
// creations cannot starve the execution path.
type Summarizer struct {
	cfg     *common.ClaudeConfig
	client  *anthropic.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewSummarizer creates a summarizer in API or CLI mode depending on
// configuration.
func NewSummarizer(cfg *common.ClaudeConfig, logger arbor.ILogger) *Summarizer {
	s := &Summarizer{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(rateInterval(cfg.RateLimit)), 1),
		logger:  logger,
	}
	if cfg.APIKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
		s.client = &client
		logger.Debug().Str("model", cfg.Model).Msg("Title summarizer using direct API")
	} else {
		logger.Debug().Str("command", cfg.Command).Msg("Title summarizer using assistant CLI")
	}
	return s
}

func rateInterval(raw string) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// Summarize returns a short title for the prompt. Errors are not fatal to
// the owning job; callers fall back to DefaultTitle.
func (s *Summarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	excerpt := prompt
	if len(excerpt) > maxPromptExcerpt {
		excerpt = excerpt[:maxPromptExcerpt]
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var raw string
	var err error
	if s.client != nil {
		raw, err = s.summarizeAPI(callCtx, excerpt)
	} else {
		raw, err = s.summarizeCLI(callCtx, excerpt)
	}
	if err != nil {
		return "", err
	}

	title := cleanTitle(raw)
	if title == "" {
		return "", fmt.Errorf("summarizer returned empty title")
	}
	return title, nil
}

func (s *Summarizer) summarizeAPI(ctx context.Context, excerpt string) (string, error) {
	maxTokens := s.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: instruction}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(excerpt)),
		},
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("title API call failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// summarizeCLI runs the assistant once in print mode under the service's own
// identity. Title generation never impersonates the submitting user.
func (s *Summarizer) summarizeCLI(ctx context.Context, excerpt string) (string, error) {
	args := append([]string{}, s.cfg.DefaultArgs...)
	args = append(args, instruction+"\n\n"+excerpt)

	out, err := exec.CommandContext(ctx, s.cfg.Command, args...).Output()
	if err != nil {
		return "", fmt.Errorf("title CLI call failed: %w", err)
	}
	return string(out), nil
}

// cleanTitle normalizes model output into a single short line.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title
}
