// -----------------------------------------------------------------------
// Staging area - uploads accepted before the workspace exists
// -----------------------------------------------------------------------

package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/models"
)

// StagingDir is the per-job holding directory name.
const StagingDir = "staging"

// suffixLen is the length of the content-derived hex suffix appended to
// stored basenames.
const suffixLen = 8

// Staging accepts uploads for a job before its workspace exists and
// materializes them into the workspace's files/ subtree at dispatch.
type Staging struct {
	jobsRoot string
	logger   arbor.ILogger
}

// NewStaging creates a staging area rooted at jobsRoot.
func NewStaging(jobsRoot string, logger arbor.ILogger) *Staging {
	return &Staging{jobsRoot: jobsRoot, logger: logger}
}

// StagingPath returns the holding directory for a job.
func (s *Staging) StagingPath(jobID string) string {
	return filepath.Join(s.jobsRoot, jobID, StagingDir)
}

// Accept writes an upload under a collision-proof stored name derived from
// the content hash. Returns the stored name relative to the staging root.
func (s *Staging) Accept(jobID, originalName string, data []byte) (string, error) {
	rel, err := sanitizeRelPath(originalName)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	stored := rel + "." + hex.EncodeToString(sum[:])[:suffixLen]

	dest := filepath.Join(s.StagingPath(jobID), filepath.FromSlash(stored))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", models.WrapError(models.ErrInternal, "failed to create staging directory", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", models.WrapError(models.ErrInternal, "failed to write staged file", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("original", originalName).
		Str("stored", stored).
		Int("bytes", len(data)).
		Msg("Upload staged")
	return stored, nil
}

// List returns stored names relative to the staging root. Empty when no
// staging directory exists.
func (s *Staging) List(jobID string) ([]string, error) {
	root := s.StagingPath(jobID)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "failed to list staging directory", err)
	}
	return files, nil
}

// Materialize copies every staged file into {workspace}/files/ under its
// original name, creating parent directories as needed, and returns the copy
// count. The staging directory is preserved on failure for manual recovery.
func (s *Staging) Materialize(jobID, workspacePath string) (int, error) {
	stored, err := s.List(jobID)
	if err != nil {
		return 0, err
	}
	if len(stored) == 0 {
		return 0, nil
	}

	root := s.StagingPath(jobID)
	count := 0
	for _, rel := range stored {
		original := StripStoredSuffix(rel)
		src := filepath.Join(root, filepath.FromSlash(rel))
		dst := filepath.Join(workspacePath, FilesDir, filepath.FromSlash(original))

		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return count, models.WrapError(models.ErrStagingMaterializeFailed,
				fmt.Sprintf("failed to create parent for %s", original), err)
		}
		if err := copyFile(src, dst); err != nil {
			return count, models.WrapError(models.ErrStagingMaterializeFailed,
				fmt.Sprintf("failed to materialize %s", original), err)
		}
		count++
	}

	s.logger.Info().Str("job_id", jobID).Int("count", count).Msg("Staged files materialized")
	return count, nil
}

// Cleanup removes the staging directory. Idempotent.
func (s *Staging) Cleanup(jobID string) error {
	root := s.StagingPath(jobID)
	if err := os.RemoveAll(root); err != nil {
		return models.WrapError(models.ErrInternal, "failed to remove staging directory", err)
	}
	// Drop the job directory too when staging was its only content, so a
	// never-dispatched job leaves no workspace behind.
	jobDir := filepath.Dir(root)
	if entries, err := os.ReadDir(jobDir); err == nil && len(entries) == 0 {
		_ = os.Remove(jobDir)
	}
	return nil
}

// StripStoredSuffix recovers the original relative path from a stored name.
func StripStoredSuffix(stored string) string {
	idx := strings.LastIndex(stored, ".")
	if idx < 0 || len(stored)-idx-1 != suffixLen {
		return stored
	}
	suffix := stored[idx+1:]
	if _, err := hex.DecodeString(suffix); err != nil {
		return stored
	}
	return stored[:idx]
}

// sanitizeRelPath rejects absolute paths and parent traversal in upload names.
func sanitizeRelPath(name string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "/") ||
		cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(name) {
		return "", models.NewError(models.ErrInvalidInput, fmt.Sprintf("illegal upload path %q", name))
	}
	return cleaned, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
