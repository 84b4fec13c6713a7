package interfaces

import (
	"context"

	"github.com/ternarybob/faber/internal/models"
)

// ExecRequest carries everything the assistant invocation needs.
type ExecRequest struct {
	Job          *models.Job
	SystemPrompt string
	Prompt       string
	Images       []string
}

// ExecResult is the captured outcome of an assistant run.
type ExecResult struct {
	ExitCode int
	Output   string
}

// AssistantExecutor launches the assistant under the submitting user's OS
// identity and supervises it to completion.
type AssistantExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// Impersonator wraps the OS primitive that runs a command as another user.
// Tests substitute an in-process implementation.
type Impersonator interface {
	// Validate rejects users the service must not impersonate.
	Validate(user string) error
	// Command returns argv for running the given program as the user.
	Command(user string, program string, args ...string) []string
}

// Sidecar manages the per-job semantic-index service.
type Sidecar interface {
	Start(ctx context.Context, workspacePath string) error
	WaitReady(ctx context.Context, workspacePath string) error
	Stop(workspacePath string) error
}

// TitleSummarizer derives a short human title from a prompt.
type TitleSummarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}
