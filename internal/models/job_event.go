package models

import "time"

// JobEvent is one entry in the per-job status journal. Events are ordered by
// Seq within a job.
type JobEvent struct {
	ID        uint64    `badgerhold:"key"`
	JobID     string    `badgerholdIndex:"JobID" json:"job_id"`
	Seq       int       `json:"seq"`
	Status    JobStatus `json:"status"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
