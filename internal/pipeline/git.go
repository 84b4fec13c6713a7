package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
)

// GitClient runs the version-control CLI in a workspace. Detection of git
// worktrees is done in-process; the pull itself is always the external CLI so
// the workspace sees exactly what a user's git would do.
type GitClient struct {
	command     string
	pullTimeout time.Duration
	retries     int
	logger      arbor.ILogger

	// run executes the pull command and returns combined output. Test hook.
	run func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// NewGitClient creates a git client from configuration.
func NewGitClient(cfg *common.GitConfig, logger arbor.ILogger) *GitClient {
	command := cfg.Command
	if command == "" {
		command = "git"
	}
	pullTimeout := 2 * time.Minute
	if cfg.PullTimeout != "" {
		if d, err := time.ParseDuration(cfg.PullTimeout); err == nil {
			pullTimeout = d
		}
	}
	return &GitClient{
		command:     command,
		pullTimeout: pullTimeout,
		retries:     cfg.PullRetries,
		logger:      logger,
		run: func(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir
			return cmd.CombinedOutput()
		},
	}
}

// SetRunner replaces the command runner. Test hook.
func (g *GitClient) SetRunner(run func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)) {
	g.run = run
}

// IsGitRepository reports whether dir holds a git worktree.
func (g *GitClient) IsGitRepository(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

// Pull runs git pull in the workspace with a bounded timeout. Transient
// nonzero exits are retried up to the configured bound before failing.
func (g *GitClient) Pull(ctx context.Context, dir string) error {
	var lastErr error
	attempts := g.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, g.pullTimeout)
		out, err := g.run(pullCtx, dir, g.command, "pull")
		cancel()
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("git pull failed: %w: %s", err, string(out))
		g.logger.Warn().
			Err(err).
			Str("dir", dir).
			Int("attempt", attempt).
			Msg("git pull failed")

		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < attempts {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}
