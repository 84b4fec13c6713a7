package badger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

func newTestJournal(t *testing.T) interfaces.EventJournal {
	t.Helper()
	cfg := &common.EventsConfig{Path: filepath.Join(t.TempDir(), "events")}
	db, err := NewBadgerDB(common.GetLogger(), cfg)
	require.NoError(t, err)

	journal := NewEventJournal(db, common.GetLogger())
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestEventJournal_AppendAndReplay(t *testing.T) {
	journal := newTestJournal(t)

	require.NoError(t, journal.Append("job-1", models.JobStatusCreated, ""))
	require.NoError(t, journal.Append("job-1", models.JobStatusQueued, ""))
	require.NoError(t, journal.Append("job-1", models.JobStatusRunning, "dispatched"))

	events, err := journal.EventsForJob("job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.JobStatusCreated, events[0].Status)
	assert.Equal(t, models.JobStatusQueued, events[1].Status)
	assert.Equal(t, models.JobStatusRunning, events[2].Status)
	assert.Equal(t, "dispatched", events[2].Note)

	for i, ev := range events {
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, i+1, ev.Seq)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestEventJournal_JobsAreIsolated(t *testing.T) {
	journal := newTestJournal(t)

	require.NoError(t, journal.Append("job-a", models.JobStatusCreated, ""))
	require.NoError(t, journal.Append("job-b", models.JobStatusCreated, ""))
	require.NoError(t, journal.Append("job-a", models.JobStatusQueued, ""))

	a, err := journal.EventsForJob("job-a")
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := journal.EventsForJob("job-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, 1, b[0].Seq, "sequences are per job")
}

func TestEventJournal_UnknownJobIsEmpty(t *testing.T) {
	journal := newTestJournal(t)

	events, err := journal.EventsForJob("ghost")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventJournal_DeleteForJob(t *testing.T) {
	journal := newTestJournal(t)

	require.NoError(t, journal.Append("job-1", models.JobStatusCreated, ""))
	require.NoError(t, journal.Append("job-2", models.JobStatusCreated, ""))

	require.NoError(t, journal.DeleteForJob("job-1"))

	gone, err := journal.EventsForJob("job-1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := journal.EventsForJob("job-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	// Deleting again is harmless.
	require.NoError(t, journal.DeleteForJob("job-1"))
}

func TestBadgerDB_ResetOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events")
	logger := common.GetLogger()

	db, err := NewBadgerDB(logger, &common.EventsConfig{Path: path})
	require.NoError(t, err)
	journal := NewEventJournal(db, logger)
	require.NoError(t, journal.Append("job-1", models.JobStatusCreated, ""))
	require.NoError(t, journal.Close())

	db, err = NewBadgerDB(logger, &common.EventsConfig{Path: path, ResetOnStartup: true})
	require.NoError(t, err)
	journal = NewEventJournal(db, logger)
	defer journal.Close()

	events, err := journal.EventsForJob("job-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventJournal_SequenceResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events")
	logger := common.GetLogger()

	db, err := NewBadgerDB(logger, &common.EventsConfig{Path: path})
	require.NoError(t, err)
	journal := NewEventJournal(db, logger)
	require.NoError(t, journal.Append("job-1", models.JobStatusCreated, ""))
	require.NoError(t, journal.Append("job-1", models.JobStatusQueued, ""))
	require.NoError(t, journal.Close())

	// A restarted service appends to the same job's history.
	db, err = NewBadgerDB(logger, &common.EventsConfig{Path: path})
	require.NoError(t, err)
	journal = NewEventJournal(db, logger)
	defer journal.Close()
	require.NoError(t, journal.Append("job-1", models.JobStatusRunning, "recovered"))

	events, err := journal.EventsForJob("job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, models.JobStatusRunning, events[2].Status, "post-restart event sorts last")
}
