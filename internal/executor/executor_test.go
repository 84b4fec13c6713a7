package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

// shellExecutor runs /bin/sh -c so tests exercise the real process
// supervision path without the assistant CLI installed.
func shellExecutor() *ClaudeExecutor {
	cfg := &common.ClaudeConfig{
		Command:     "/bin/sh",
		DefaultArgs: []string{"-c"},
	}
	return NewClaudeExecutor(cfg, SelfImpersonator{}, common.GetLogger())
}

func shellJob(t *testing.T) *models.Job {
	t.Helper()
	job := models.NewJob("tester", "prompt", "repo", models.JobOptions{TimeoutSeconds: 60})
	job.WorkspacePath = t.TempDir()
	return job
}

func TestClaudeExecutor_CapturesOutputAndExitCode(t *testing.T) {
	exec := shellExecutor()
	job := shellJob(t)

	result, err := exec.Execute(context.Background(), interfaces.ExecRequest{
		Job:    job,
		Prompt: "echo out; echo err 1>&2",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "out")
	assert.Contains(t, result.Output, "err")
}

func TestClaudeExecutor_NonZeroExit(t *testing.T) {
	exec := shellExecutor()
	job := shellJob(t)

	result, err := exec.Execute(context.Background(), interfaces.ExecRequest{
		Job:    job,
		Prompt: "echo partial; exit 3",
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrExecutionFailed))
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "partial")
}

func TestClaudeExecutor_RunsInWorkspace(t *testing.T) {
	exec := shellExecutor()
	job := shellJob(t)

	result, err := exec.Execute(context.Background(), interfaces.ExecRequest{
		Job:    job,
		Prompt: "pwd",
	})
	require.NoError(t, err)
	assert.Equal(t, job.WorkspacePath, strings.TrimSpace(result.Output))
}

func TestClaudeExecutor_CancellationPreservesPartialOutput(t *testing.T) {
	exec := shellExecutor()
	job := shellJob(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := exec.Execute(ctx, interfaces.ExecRequest{
		Job:    job,
		Prompt: "echo before-sleep; sleep 30",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, result)
	assert.Contains(t, result.Output, "before-sleep")
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 15*time.Second, "termination must not wait for the sleep")
}

func TestSudoImpersonator_Command(t *testing.T) {
	argv := SudoImpersonator{}.Command("alice", "claude", "--print", "hi")
	assert.Equal(t, []string{"sudo", "-n", "-u", "alice", "--", "claude", "--print", "hi"}, argv)
}

func TestSudoImpersonator_RejectsUnknownUser(t *testing.T) {
	err := SudoImpersonator{}.Validate("no-such-user-xyz")
	assert.True(t, models.IsKind(err, models.ErrInvalidInput))
}

func TestSudoImpersonator_RejectsSystemAccount(t *testing.T) {
	err := SudoImpersonator{}.Validate("root")
	assert.True(t, models.IsKind(err, models.ErrAccessDenied))
}
