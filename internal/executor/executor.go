// -----------------------------------------------------------------------
// Executor - supervised assistant process under user impersonation
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

// outputCap bounds the in-memory rolling output buffer per job.
const outputCap = 10 * 1024 * 1024

// termGrace is the pause between the polite termination signal and the
// unconditional one.
const termGrace = 10 * time.Second

// ClaudeExecutor launches the configured assistant CLI as the submitting OS
// user with the workspace as working directory, captures merged
// stdout+stderr, and terminates the process group on cancellation.
type ClaudeExecutor struct {
	cfg    *common.ClaudeConfig
	imp    interfaces.Impersonator
	logger arbor.ILogger
}

// NewClaudeExecutor creates an executor over the given impersonation
// primitive.
func NewClaudeExecutor(cfg *common.ClaudeConfig, imp interfaces.Impersonator, logger arbor.ILogger) *ClaudeExecutor {
	return &ClaudeExecutor{cfg: cfg, imp: imp, logger: logger}
}

// Execute runs the assistant to completion or context cancellation. The
// captured rolling output is returned even on failure so callers can
// preserve partial output.
func (e *ClaudeExecutor) Execute(ctx context.Context, req interfaces.ExecRequest) (*interfaces.ExecResult, error) {
	job := req.Job
	if err := e.imp.Validate(job.User); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cfg.DefaultArgs...)
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	for _, image := range req.Images {
		args = append(args, "--image", image)
	}
	args = append(args, req.Prompt)

	argv := e.imp.Command(job.User, e.cfg.Command, args...)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = job.WorkspacePath
	cmd.Stdin = nil // stdin closed: the assistant must not block on input

	buf := NewRollingBuffer(outputCap)
	cmd.Stdout = buf
	cmd.Stderr = buf

	// Own process group so termination reaches the assistant's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("user", job.User).
		Str("workspace", job.WorkspacePath).
		Msg("Launching assistant")

	if err := cmd.Start(); err != nil {
		return nil, models.WrapError(models.ErrExecutionFailed, "failed to start assistant", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return e.finish(job, buf, err)
	case <-ctx.Done():
		e.terminate(cmd, done)
		result := &interfaces.ExecResult{ExitCode: -1, Output: buf.String()}
		return result, ctx.Err()
	}
}

// terminate signals the process group politely, waits a bounded grace, then
// kills unconditionally.
func (e *ClaudeExecutor) terminate(cmd *exec.Cmd, done chan error) {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-done
}

func (e *ClaudeExecutor) finish(job *models.Job, buf *RollingBuffer, waitErr error) (*interfaces.ExecResult, error) {
	result := &interfaces.ExecResult{Output: buf.String()}

	if waitErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		e.logger.Warn().
			Str("job_id", job.ID).
			Int("exit_code", result.ExitCode).
			Msg("Assistant exited non-zero")
		return result, models.WrapError(models.ErrExecutionFailed,
			fmt.Sprintf("assistant exited with code %d", result.ExitCode), waitErr)
	}

	result.ExitCode = -1
	return result, models.WrapError(models.ErrExecutionFailed, "assistant wait failed", waitErr)
}
