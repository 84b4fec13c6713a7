package interfaces

import (
	"time"

	"github.com/ternarybob/faber/internal/models"
)

// JobStore persists job records, one file per job.
type JobStore interface {
	Save(job *models.Job) error
	Load(jobID string) (*models.Job, error)
	LoadAll() ([]*models.Job, error)
	LoadForUser(user string) ([]*models.Job, error)
	Delete(jobID string) error
	ReapTerminal(retention time.Duration) (int, error)
}

// EventJournal appends status-transition events for diagnostics.
type EventJournal interface {
	Append(jobID string, status models.JobStatus, note string) error
	EventsForJob(jobID string) ([]*models.JobEvent, error)
	DeleteForJob(jobID string) error
	Close() error
}
