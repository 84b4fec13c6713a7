// -----------------------------------------------------------------------
// Workspace store - copy-on-write per-job workspaces
// -----------------------------------------------------------------------

package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

// CloneStrategy identifies the copy-on-write mechanism in use.
type CloneStrategy string

const (
	StrategyReflink  CloneStrategy = "reflink"
	StrategySnapshot CloneStrategy = "snapshot"
	StrategyHardlink CloneStrategy = "hardlink"
)

// FilesDir is the workspace subdirectory that receives staged uploads.
const FilesDir = "files"

// CommandRunner executes an external command and returns its combined output
// on failure. Tests substitute an in-process runner.
type CommandRunner func(name string, args ...string) error

func defaultRunner(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, string(out))
	}
	return nil
}

// Store creates and destroys per-job workspace directories. The first clone
// strategy that succeeds on the hosting filesystem is cached for the life of
// the process.
type Store struct {
	jobsRoot string
	registry interfaces.RepositoryRegistry
	logger   arbor.ILogger
	run      CommandRunner

	mu       sync.Mutex
	strategy CloneStrategy // empty until first successful clone
}

// NewStore creates a workspace store rooted at jobsRoot.
func NewStore(jobsRoot string, registry interfaces.RepositoryRegistry, logger arbor.ILogger) *Store {
	return &Store{
		jobsRoot: jobsRoot,
		registry: registry,
		logger:   logger,
		run:      defaultRunner,
	}
}

// SetRunner replaces the command runner. Test hook.
func (s *Store) SetRunner(run CommandRunner) {
	s.run = run
}

// Path returns the workspace path for a job without touching disk.
func (s *Store) Path(jobID string) string {
	return filepath.Join(s.jobsRoot, jobID)
}

// Clone provisions {jobs_root}/{job_id} as a copy-on-write clone of the named
// repository and creates an empty files/ subdirectory. The target directory
// may already exist when uploads were staged before dispatch; strategies that
// cannot clone into an existing directory are skipped in that case.
func (s *Store) Clone(repoName, jobID string) (string, error) {
	source, err := s.registry.Lookup(repoName)
	if err != nil {
		return "", err
	}

	target := s.Path(jobID)
	targetExists := false
	if _, err := os.Stat(target); err == nil {
		targetExists = true
	}

	s.mu.Lock()
	cached := s.strategy
	s.mu.Unlock()

	strategies := []CloneStrategy{StrategyReflink, StrategySnapshot, StrategyHardlink}
	if cached != "" {
		strategies = []CloneStrategy{cached}
	}

	var lastErr error
	for _, strategy := range strategies {
		if strategy == StrategySnapshot && targetExists {
			continue
		}
		if err := s.cloneWith(strategy, source, target); err != nil {
			lastErr = err
			s.logger.Debug().Str("strategy", string(strategy)).Err(err).Msg("Clone strategy failed")
			continue
		}

		s.mu.Lock()
		s.strategy = strategy
		s.mu.Unlock()

		if err := os.MkdirAll(filepath.Join(target, FilesDir), 0755); err != nil {
			return "", models.WrapError(models.ErrWorkspaceCreateFailed, "failed to create files directory", err)
		}
		s.logger.Info().
			Str("job_id", jobID).
			Str("repository", repoName).
			Str("strategy", string(strategy)).
			Msg("Workspace cloned")
		return target, nil
	}

	// All strategies exhausted. Remove any partial copy so the failed job
	// leaves nothing behind.
	if !targetExists {
		_ = os.RemoveAll(target)
	}
	return "", models.WrapError(models.ErrWorkspaceCreateFailed,
		fmt.Sprintf("all clone strategies failed for repository %q", repoName), lastErr)
}

func (s *Store) cloneWith(strategy CloneStrategy, source, target string) error {
	switch strategy {
	case StrategyReflink:
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		return s.run("cp", "-a", "--reflink=always", source+string(os.PathSeparator)+".", target)
	case StrategySnapshot:
		return s.run("btrfs", "subvolume", "snapshot", source, target)
	case StrategyHardlink:
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		return s.run("rsync", "-a", "--link-dest="+source, source+string(os.PathSeparator), target+string(os.PathSeparator))
	default:
		return fmt.Errorf("unknown clone strategy %q", strategy)
	}
}

// Remove tears the workspace down with the teardown symmetric to the cached
// clone strategy. Idempotent on nonexistent paths.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	s.mu.Lock()
	strategy := s.strategy
	s.mu.Unlock()

	if strategy == StrategySnapshot {
		if err := s.run("btrfs", "subvolume", "delete", path); err == nil {
			return nil
		}
		// Snapshot delete can fail when staging was materialized into the
		// subvolume; fall through to a recursive delete.
	}

	if err := os.RemoveAll(path); err != nil {
		return models.WrapError(models.ErrInternal, fmt.Sprintf("failed to remove workspace %s", path), err)
	}
	return nil
}

// Exists reports whether the workspace directory is present on disk.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
