package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob("alice", "fix the build", "webapp", JobOptions{TimeoutSeconds: 600})

	assert.True(t, len(job.ID) > 4 && job.ID[:4] == "job_")
	assert.Equal(t, JobStatusCreated, job.Status)
	assert.Equal(t, GitStatusNotChecked, job.GitStatus)
	assert.Equal(t, CidxStatusNotStarted, job.CidxStatus)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestJob_Transition_LegalPath(t *testing.T) {
	job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})

	for _, next := range []JobStatus{
		JobStatusQueued,
		JobStatusGitPulling,
		JobStatusCidxIndexing,
		JobStatusCidxReady,
		JobStatusRunning,
		JobStatusCompleted,
	} {
		require.NoError(t, job.Transition(next), "transition to %s", next)
	}

	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.True(t, job.IsTerminal())
}

func TestJob_Transition_Illegal(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
	}{
		{"created to running", JobStatusCreated, JobStatusRunning},
		{"queued to completed", JobStatusQueued, JobStatusCompleted},
		{"completed is final", JobStatusCompleted, JobStatusRunning},
		{"cancelled is final", JobStatusCancelled, JobStatusQueued},
		{"git_failed is final", JobStatusGitFailed, JobStatusRunning},
		{"timeout is final", JobStatusTimeout, JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})
			job.Status = tt.from
			assert.Error(t, job.Transition(tt.to))
			assert.Equal(t, tt.from, job.Status)
		})
	}
}

func TestJob_Transition_SameStatusIsNoop(t *testing.T) {
	job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})
	require.NoError(t, job.Transition(JobStatusQueued))
	require.NoError(t, job.Transition(JobStatusQueued))
	assert.Equal(t, JobStatusQueued, job.Status)
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled, JobStatusGitFailed}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	active := []JobStatus{JobStatusCreated, JobStatusQueued, JobStatusGitPulling, JobStatusCidxIndexing, JobStatusCidxReady, JobStatusRunning}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestJob_Clone_IsDeep(t *testing.T) {
	job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})
	job.UploadedFiles = []string{"a.txt"}
	job.Images = []string{"shot.png"}
	job.SetExitCode(0)
	now := time.Now().UTC()
	job.StartedAt = &now

	c := job.Clone()
	c.UploadedFiles[0] = "mutated"
	*c.ExitCode = 99
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "a.txt", job.UploadedFiles[0])
	assert.Equal(t, 0, *job.ExitCode)
	assert.Equal(t, now, *job.StartedAt)
}

func TestJob_JSONRoundTrip(t *testing.T) {
	job := NewJob("bob", "do things", "repo", JobOptions{TimeoutSeconds: 120, GitAware: true, CidxAware: true})
	job.UploadedFiles = []string{"data.csv"}
	require.NoError(t, job.Transition(JobStatusQueued))

	data, err := job.ToJSON()
	require.NoError(t, err)

	loaded, err := JobFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, job.Status, loaded.Status)
	assert.Equal(t, job.Options, loaded.Options)
	assert.Equal(t, job.UploadedFiles, loaded.UploadedFiles)
}

func TestJob_Validate(t *testing.T) {
	job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})
	require.NoError(t, job.Validate())

	bad := job.Clone()
	bad.User = ""
	assert.Error(t, bad.Validate())

	bad = job.Clone()
	bad.Options.TimeoutSeconds = 0
	assert.Error(t, bad.Validate())
}

func TestJob_AppendOutput(t *testing.T) {
	job := NewJob("alice", "prompt", "repo", JobOptions{TimeoutSeconds: 60})
	job.AppendOutput("first")
	job.AppendOutput("second")
	assert.Equal(t, "first\nsecond", job.Output)
}
