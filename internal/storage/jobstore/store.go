// -----------------------------------------------------------------------
// Job store - one JSON record file per job
// -----------------------------------------------------------------------

package jobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/models"
)

const recordSuffix = ".job.json"

// Store persists job records as a flat directory of one file per job.
type Store struct {
	root   string
	logger arbor.ILogger
}

// NewStore creates a job store rooted at the jobs directory.
func NewStore(root string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs root %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) recordPath(jobID string) string {
	return filepath.Join(s.root, jobID+recordSuffix)
}

// Save writes the full record, replacing any previous contents. Consumers
// call it on every status transition; the last write wins.
func (s *Store) Save(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return models.WrapError(models.ErrInvalidInput, "invalid job record", err)
	}

	data, err := job.ToJSON()
	if err != nil {
		return models.WrapError(models.ErrInternal, "failed to serialize job", err)
	}

	path := s.recordPath(job.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return models.WrapError(models.ErrInternal, "failed to write job record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return models.WrapError(models.ErrInternal, "failed to replace job record", err)
	}
	return nil
}

// Load reads one job record.
func (s *Store) Load(jobID string) (*models.Job, error) {
	data, err := os.ReadFile(s.recordPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewError(models.ErrNotFound, fmt.Sprintf("job %s not found", jobID))
		}
		return nil, models.WrapError(models.ErrInternal, "failed to read job record", err)
	}
	job, err := models.JobFromJSON(data)
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, fmt.Sprintf("corrupted job record %s", jobID), err)
	}
	return job, nil
}

// LoadAll reads every record in the store, sorted by creation time.
// Individual corrupted files are skipped and logged; they never fail the
// whole batch.
func (s *Store) LoadAll() ([]*models.Job, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "failed to read jobs root", err)
	}

	var jobs []*models.Job
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable job record")
			continue
		}
		job, err := models.JobFromJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping corrupted job record")
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// LoadForUser returns the user's jobs, newest first.
func (s *Store) LoadForUser(user string) ([]*models.Job, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	var jobs []*models.Job
	for _, job := range all {
		if job.User == user {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Delete removes a record file. Idempotent.
func (s *Store) Delete(jobID string) error {
	if err := os.Remove(s.recordPath(jobID)); err != nil && !os.IsNotExist(err) {
		return models.WrapError(models.ErrInternal, "failed to delete job record", err)
	}
	return nil
}

// ReapTerminal deletes record files for terminal jobs whose completion
// precedes now minus the retention window. Non-terminal jobs are never
// touched regardless of age. Returns the number of records deleted.
func (s *Store) ReapTerminal(retention time.Duration) (int, error) {
	jobs, err := s.LoadAll()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	deleted := 0
	for _, job := range jobs {
		if !job.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.Delete(job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reap job record")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("count", deleted).Msg("Terminal job records reaped")
	}
	return deleted, nil
}
