package badger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

// EventJournal records every status transition for diagnostics and crash
// forensics. Job records themselves live in the file-backed job store; the
// journal is supplementary and safe to reset.
type EventJournal struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu   sync.Mutex
	seqs map[string]int
}

// NewEventJournal creates an EventJournal over the given connection.
func NewEventJournal(db *BadgerDB, logger arbor.ILogger) interfaces.EventJournal {
	return &EventJournal{
		db:     db,
		logger: logger,
		seqs:   make(map[string]int),
	}
}

// Append records a status transition for a job.
func (j *EventJournal) Append(jobID string, status models.JobStatus, note string) error {
	seq, err := j.nextSeq(jobID)
	if err != nil {
		return err
	}

	event := &models.JobEvent{
		JobID:     jobID,
		Seq:       seq,
		Status:    status,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
	if err := j.db.Store().Insert(badgerhold.NextSequence(), event); err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

// nextSeq allocates the job's next transition sequence number. The first
// allocation after open resumes behind the highest persisted Seq so events
// appended for a recovered job sort after its pre-restart history.
func (j *EventJournal) nextSeq(jobID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.seqs[jobID]; !ok {
		var events []models.JobEvent
		if err := j.db.Store().Find(&events, badgerhold.Where("JobID").Eq(jobID)); err != nil {
			return 0, fmt.Errorf("failed to resume job event sequence: %w", err)
		}
		max := 0
		for _, ev := range events {
			if ev.Seq > max {
				max = ev.Seq
			}
		}
		j.seqs[jobID] = max
	}

	j.seqs[jobID]++
	return j.seqs[jobID], nil
}

// EventsForJob returns the job's events in transition order.
func (j *EventJournal) EventsForJob(jobID string) ([]*models.JobEvent, error) {
	var events []models.JobEvent
	if err := j.db.Store().Find(&events, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to load job events: %w", err)
	}

	sort.Slice(events, func(a, b int) bool { return events[a].Seq < events[b].Seq })

	result := make([]*models.JobEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

// DeleteForJob removes the job's events. Called when the record is reaped.
func (j *EventJournal) DeleteForJob(jobID string) error {
	if err := j.db.Store().DeleteMatching(&models.JobEvent{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete job events: %w", err)
	}
	j.mu.Lock()
	delete(j.seqs, jobID)
	j.mu.Unlock()
	return nil
}

// Close closes the underlying connection.
func (j *EventJournal) Close() error {
	return j.db.Close()
}
