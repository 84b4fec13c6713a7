// -----------------------------------------------------------------------
// Repository registry - logical name to on-disk clone resolution
// -----------------------------------------------------------------------

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/faber/internal/models"
)

const indexFileName = "repositories.yaml"

// Entry describes one registered repository.
type Entry struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path,omitempty"`    // Absolute clone path; defaults to <root>/<name>
	GitURL string `yaml:"git_url,omitempty"` // Origin URL, informational
}

type indexFile struct {
	Repositories []Entry `yaml:"repositories"`
}

// Registry resolves repository names against a root directory, optionally
// refined by a repositories.yaml index file at the root.
type Registry struct {
	root    string
	logger  arbor.ILogger
	mu      sync.RWMutex
	entries map[string]Entry
}

// New loads the registry from the repositories root. Missing index file is
// not an error: every directory under the root is a repository.
func New(root string, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{
		root:    root,
		logger:  logger,
		entries: make(map[string]Entry),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the root directory and re-reads the index file.
func (r *Registry) Reload() error {
	entries := make(map[string]Entry)

	dirents, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("failed to read repositories root %s: %w", r.root, err)
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		entries[d.Name()] = Entry{
			Name: d.Name(),
			Path: filepath.Join(r.root, d.Name()),
		}
	}

	indexPath := filepath.Join(r.root, indexFileName)
	if data, err := os.ReadFile(indexPath); err == nil {
		var idx indexFile
		if err := yaml.Unmarshal(data, &idx); err != nil {
			return fmt.Errorf("failed to parse %s: %w", indexPath, err)
		}
		for _, e := range idx.Repositories {
			if e.Name == "" {
				continue
			}
			if e.Path == "" {
				e.Path = filepath.Join(r.root, e.Name)
			}
			entries[e.Name] = e
		}
	}

	// Plain directories are legal repositories (git-aware jobs skip the pull
	// for them); surface which entries lack a worktree so an operator can
	// tell a misregistered clone from an intentional plain tree.
	worktrees := 0
	for name, e := range entries {
		if IsGitRepository(e.Path) {
			worktrees++
			continue
		}
		r.logger.Debug().Str("repository", name).Str("path", e.Path).Msg("Registered repository is not a git worktree")
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Debug().
		Int("count", len(entries)).
		Int("worktrees", worktrees).
		Str("root", r.root).
		Msg("Repository registry loaded")
	return nil
}

// Lookup resolves a repository name to its on-disk clone path.
func (r *Registry) Lookup(name string) (string, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return "", models.NewError(models.ErrInvalidInput, fmt.Sprintf("unknown repository %q", name))
	}
	if _, err := os.Stat(entry.Path); err != nil {
		return "", models.WrapError(models.ErrNotFound, fmt.Sprintf("repository %q clone missing", name), err)
	}
	return entry.Path, nil
}

// List returns the registered repository names, sorted.
func (r *Registry) List() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// IsGitRepository reports whether the path holds a git worktree.
func IsGitRepository(path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}
