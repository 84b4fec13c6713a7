package interfaces

import (
	"github.com/ternarybob/faber/internal/models"
)

// JobSink is how pipeline steps report job mutations. The scheduler is the
// only implementation: it owns the in-memory index, funnels every status
// write through the transition relation, and persists outside its lock.
type JobSink interface {
	// Transition moves the job to the next status, persists the record, and
	// journals the event. The note is appended to the job output when
	// non-empty.
	Transition(job *models.Job, next models.JobStatus, note string) error
	// SetGitStatus records the git sub-status under the index lock and
	// persists the record.
	SetGitStatus(job *models.Job, status models.GitStatus) error
	// SetCidxStatus records the semantic-index sub-status under the index
	// lock and persists the record.
	SetCidxStatus(job *models.Job, status models.CidxStatus) error
	// Update persists non-status field changes (uploaded files, output).
	Update(job *models.Job) error
}
