// -----------------------------------------------------------------------
// Reaper - two-tier resource reclamation (workspaces, then records)
// -----------------------------------------------------------------------

package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/models"
)

// Reaper runs two scheduled sweeps against the job index. The short horizon
// reclaims workspaces of jobs past the wall-clock age limit (the record
// stays readable); the long horizon deletes terminal records past retention.
type Reaper struct {
	cfg   *common.Config
	sched *Scheduler
	log   arbor.ILogger
	cron  *cron.Cron
}

// NewReaper creates a reaper bound to the scheduler's index and stores.
func NewReaper(cfg *common.Config, sched *Scheduler, logger arbor.ILogger) *Reaper {
	return &Reaper{
		cfg:   cfg,
		sched: sched,
		log:   logger,
		cron:  cron.New(),
	}
}

// Start schedules both sweeps and launches the cron runner.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc("@every 1m", r.SweepWorkspaces); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("@every 10m", r.ReapRecords); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().
		Str("wall_clock", r.cfg.WallClockTimeout().String()).
		Str("retention", r.cfg.Retention().String()).
		Msg("Reaper started")
	return nil
}

// Stop halts the cron runner. Sweeps already in flight finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// SweepWorkspaces is the short-horizon sweep. Terminal jobs past the
// wall-clock age lose their workspace; dispatched jobs past it are expired
// through the pipeline's cancellation path so partial output survives.
func (r *Reaper) SweepWorkspaces() {
	cutoff := time.Now().UTC().Add(-r.cfg.WallClockTimeout())

	r.sched.mu.Lock()
	var expired []*models.Job
	var overdue []*activeRun
	for id, job := range r.sched.index {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		if job.IsTerminal() {
			if job.WorkspacePath != "" {
				expired = append(expired, job)
			}
			continue
		}
		if run, ok := r.sched.active[id]; ok {
			run.mark(reasonWallClock)
			overdue = append(overdue, run)
		}
	}
	r.sched.mu.Unlock()

	for _, run := range overdue {
		run.cancel()
	}

	for _, job := range expired {
		r.reclaimWorkspace(job)
	}
}

// reclaimWorkspace stops the sidecar, removes the workspace clone, and
// persists the cleared path. The record remains until retention expires.
func (r *Reaper) reclaimWorkspace(job *models.Job) {
	r.sched.mu.Lock()
	path := job.WorkspacePath
	r.sched.mu.Unlock()
	if path == "" {
		return
	}

	if err := r.sched.sidecar.Stop(path); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("Sidecar stop failed during workspace sweep")
	}
	if err := r.sched.workspaces.Remove(path); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("Workspace removal failed during sweep")
		return
	}
	if err := r.sched.staging.Cleanup(job.ID); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("Staging cleanup failed during sweep")
	}

	r.sched.mu.Lock()
	job.WorkspacePath = ""
	r.sched.mu.Unlock()
	if err := r.sched.Update(job); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist workspace reclamation")
		return
	}
	r.log.Info().Str("job_id", job.ID).Msg("Workspace reclaimed")
}

// ReapRecords is the long-horizon sweep: terminal records older than the
// retention window are deleted along with their journal events and index
// entries.
func (r *Reaper) ReapRecords() {
	cutoff := time.Now().UTC().Add(-r.cfg.Retention())

	r.sched.mu.Lock()
	var doomed []string
	for id, job := range r.sched.index {
		if !job.IsTerminal() || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		doomed = append(doomed, id)
	}
	for _, id := range doomed {
		delete(r.sched.index, id)
	}
	r.sched.mu.Unlock()

	for _, id := range doomed {
		if r.sched.journal != nil {
			if err := r.sched.journal.DeleteForJob(id); err != nil {
				r.log.Warn().Err(err).Str("job_id", id).Msg("Journal cleanup failed during record reap")
			}
		}
	}

	count, err := r.sched.store.ReapTerminal(r.cfg.Retention())
	if err != nil {
		r.log.Warn().Err(err).Msg("Record reap failed")
		return
	}
	if count > 0 {
		r.log.Info().Int("count", count).Msg("Expired job records deleted")
	}
}
