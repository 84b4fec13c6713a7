// -----------------------------------------------------------------------
// Job - central entity for batch assistant executions
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusCreated      JobStatus = "created"
	JobStatusQueued       JobStatus = "queued"
	JobStatusGitPulling   JobStatus = "git_pulling"
	JobStatusGitFailed    JobStatus = "git_failed"
	JobStatusCidxIndexing JobStatus = "cidx_indexing"
	JobStatusCidxReady    JobStatus = "cidx_ready"
	JobStatusRunning      JobStatus = "running"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusTimeout      JobStatus = "timeout"
	JobStatusCancelled    JobStatus = "cancelled"
)

// GitStatus tracks the pre-flight git pull sub-step.
type GitStatus string

const (
	GitStatusNotChecked GitStatus = "not_checked"
	GitStatusChecking   GitStatus = "checking"
	GitStatusPulled     GitStatus = "pulled"
	GitStatusFailed     GitStatus = "failed"
	GitStatusNotGitRepo GitStatus = "not_git_repo"
)

// CidxStatus tracks the semantic-index sidecar sub-step.
type CidxStatus string

const (
	CidxStatusNotStarted CidxStatus = "not_started"
	CidxStatusStarting   CidxStatus = "starting"
	CidxStatusIndexing   CidxStatus = "indexing"
	CidxStatusReady      CidxStatus = "ready"
	CidxStatusFailed     CidxStatus = "failed"
	CidxStatusStopped    CidxStatus = "stopped"
)

// legalTransitions is the closed transition relation. Status writes outside
// this relation are invariant violations and are rejected by Transition.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:      {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:       {JobStatusGitPulling, JobStatusCancelled, JobStatusFailed},
	JobStatusGitPulling:   {JobStatusGitFailed, JobStatusCidxIndexing, JobStatusRunning, JobStatusCancelled, JobStatusFailed, JobStatusTimeout},
	JobStatusCidxIndexing: {JobStatusCidxReady, JobStatusFailed, JobStatusCancelled, JobStatusTimeout},
	JobStatusCidxReady:    {JobStatusRunning, JobStatusCancelled, JobStatusFailed, JobStatusTimeout},
	JobStatusRunning:      {JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled},
	JobStatusGitFailed:    {},
	JobStatusCompleted:    {},
	JobStatusFailed:       {},
	JobStatusTimeout:      {},
	JobStatusCancelled:    {},
}

// IsTerminal returns true for statuses that never change again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled, JobStatusGitFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// JobOptions is the immutable per-job execution configuration, snapshot at
// creation time.
type JobOptions struct {
	TimeoutSeconds int  `json:"timeout_seconds"`
	GitAware       bool `json:"git_aware"`
	CidxAware      bool `json:"cidx_aware"`
}

// Job is the central entity: one batch invocation of the assistant against a
// copy-on-write clone of a registered repository.
type Job struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Title      string `json:"title,omitempty"`
	Prompt     string `json:"prompt"`
	Repository string `json:"repository"`

	UploadedFiles []string `json:"uploaded_files,omitempty"`
	Images        []string `json:"images,omitempty"`

	Options JobOptions `json:"options"`

	Status     JobStatus  `json:"status"`
	GitStatus  GitStatus  `json:"git_status"`
	CidxStatus CidxStatus `json:"cidx_status"`

	WorkspacePath string `json:"workspace_path,omitempty"`
	Output        string `json:"output,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`

	// QueuePosition is 1-based while queued, 0 otherwise. Derived at read
	// time by the scheduler, never persisted as authoritative.
	QueuePosition int `json:"queue_position"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a job in the Created state for the given authenticated user.
func NewJob(user, prompt, repository string, options JobOptions) *Job {
	return &Job{
		ID:         NewJobID(),
		User:       user,
		Prompt:     prompt,
		Repository: repository,
		Options:    options,
		Status:     JobStatusCreated,
		GitStatus:  GitStatusNotChecked,
		CidxStatus: CidxStatusNotStarted,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewJobID generates a unique job ID with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// Transition moves the job to the next status, enforcing the transition
// relation and stamping timestamps. Terminal statuses are final.
func (j *Job) Transition(next JobStatus) error {
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s for job %s", j.Status, next, j.ID)
	}
	j.Status = next
	now := time.Now().UTC()
	if next == JobStatusRunning && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if next.IsTerminal() && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	return nil
}

// IsTerminal returns true once the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// SetExitCode records the assistant's exit code.
func (j *Job) SetExitCode(code int) {
	j.ExitCode = &code
}

// AppendOutput appends a diagnostic note to the captured output.
func (j *Job) AppendOutput(note string) {
	if j.Output == "" {
		j.Output = note
		return
	}
	j.Output += "\n" + note
}

// Validate checks the fields required before the job may be persisted.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.User == "" {
		return fmt.Errorf("job user is required")
	}
	if j.Repository == "" {
		return fmt.Errorf("job repository is required")
	}
	if j.Options.TimeoutSeconds <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}
	return nil
}

// Clone returns a deep copy so readers never share slices with the index.
func (j *Job) Clone() *Job {
	c := *j
	if j.UploadedFiles != nil {
		c.UploadedFiles = append([]string(nil), j.UploadedFiles...)
	}
	if j.Images != nil {
		c.Images = append([]string(nil), j.Images...)
	}
	if j.ExitCode != nil {
		code := *j.ExitCode
		c.ExitCode = &code
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ToJSON serializes the job for record storage.
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job record.
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
