// -----------------------------------------------------------------------
// Jobs service - the authenticated facade over the scheduler
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
	"github.com/ternarybob/faber/internal/scheduler"
	"github.com/ternarybob/faber/internal/services/title"
)

// imageExtensions are forwarded to the assistant as image attachments
// instead of plain workspace files.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// titleDeadline bounds the detached summarization of a single job title.
const titleDeadline = 2 * time.Minute

// Service is the per-user entry point for the job lifecycle. Every call
// takes the authenticated username and enforces ownership: users see and
// touch only their own jobs.
type Service struct {
	cfg        *common.Config
	sched      *scheduler.Scheduler
	staging    interfaces.StagingArea
	registry   interfaces.RepositoryRegistry
	journal    interfaces.EventJournal
	summarizer interfaces.TitleSummarizer
	logger     arbor.ILogger
}

// NewService wires the facade.
func NewService(
	cfg *common.Config,
	sched *scheduler.Scheduler,
	staging interfaces.StagingArea,
	registry interfaces.RepositoryRegistry,
	journal interfaces.EventJournal,
	summarizer interfaces.TitleSummarizer,
	logger arbor.ILogger,
) *Service {
	return &Service{
		cfg:        cfg,
		sched:      sched,
		staging:    staging,
		registry:   registry,
		journal:    journal,
		summarizer: summarizer,
		logger:     logger,
	}
}

// CreateJob validates the request, registers the job in the Created state,
// and kicks off title summarization in the background. The job does not
// compete for a running slot until StartJob.
func (s *Service) CreateJob(user, prompt, repository string, options models.JobOptions) (*models.Job, error) {
	if strings.TrimSpace(user) == "" {
		return nil, models.NewError(models.ErrInvalidInput, "user is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, models.NewError(models.ErrInvalidInput, "prompt is required")
	}
	if _, err := s.registry.Lookup(repository); err != nil {
		return nil, err
	}
	if options.TimeoutSeconds <= 0 {
		options.TimeoutSeconds = int(s.cfg.WallClockTimeout().Seconds())
	}

	job := models.NewJob(user, prompt, repository, options)
	job.Title = title.DefaultTitle
	if err := s.sched.Add(job); err != nil {
		return nil, err
	}

	common.SafeGo(s.logger, "title:"+job.ID, func() {
		s.summarizeTitle(job.ID, prompt)
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user", user).
		Str("repository", repository).
		Msg("Job created")
	return job.Clone(), nil
}

// summarizeTitle runs detached from the creation request. Failures keep the
// default title; a title landing after the job is gone is dropped.
func (s *Service) summarizeTitle(jobID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleDeadline)
	defer cancel()

	derived, err := s.summarizer.Summarize(ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Title summarization failed")
		return
	}
	if err := s.sched.SetTitle(jobID, derived); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to store derived title")
	}
}

// Upload stages a file for a job that has not started yet. The stored name
// carries a content-hash suffix; the original name reappears when the file
// is materialized into the workspace.
func (s *Service) Upload(user, jobID, filename string, data []byte) (string, error) {
	job, err := s.ownedJob(user, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != models.JobStatusCreated {
		return "", models.NewError(models.ErrInvalidInput, "uploads are only accepted before the job is started")
	}

	stored, err := s.staging.Accept(jobID, filename, data)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(path.Ext(filename))
	if err := s.sched.RecordUpload(jobID, filename, imageExtensions[ext]); err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("file", filename).
		Str("stored", stored).
		Msg("Upload staged")
	return stored, nil
}

// StartJob freezes uploads and moves the job into the queue.
func (s *Service) StartJob(user, jobID string) error {
	if _, err := s.ownedJob(user, jobID); err != nil {
		return err
	}
	return s.sched.Start(jobID)
}

// GetJob returns the caller's job with its derived queue position.
func (s *Service) GetJob(user, jobID string) (*models.Job, error) {
	return s.ownedJob(user, jobID)
}

// ListUserJobs returns the caller's jobs, newest first.
func (s *Service) ListUserJobs(user string) ([]*models.Job, error) {
	if strings.TrimSpace(user) == "" {
		return nil, models.NewError(models.ErrInvalidInput, "user is required")
	}
	return s.sched.ListForUser(user), nil
}

// JobEvents returns the status-transition history of the caller's job.
func (s *Service) JobEvents(user, jobID string) ([]*models.JobEvent, error) {
	if _, err := s.ownedJob(user, jobID); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.EventsForJob(jobID)
}

// DeleteJob cancels the job if needed and removes everything it owns. It is
// idempotent: deleting a job that is already gone succeeds.
func (s *Service) DeleteJob(user, jobID string) error {
	_, err := s.ownedJob(user, jobID)
	if models.IsKind(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.sched.Delete(jobID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Str("user", user).Msg("Job deleted")
	return nil
}

// Repositories lists the registered repository names.
func (s *Service) Repositories() ([]string, error) {
	return s.registry.List()
}

// ownedJob resolves the job and enforces ownership. Another user's job is
// reported as access denied rather than not found so misdirected clients get
// an actionable error.
func (s *Service) ownedJob(user, jobID string) (*models.Job, error) {
	job, err := s.sched.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.User != user {
		return nil, models.NewError(models.ErrAccessDenied,
			fmt.Sprintf("job %s belongs to another user", jobID))
	}
	return job, nil
}
