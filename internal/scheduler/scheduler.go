// -----------------------------------------------------------------------
// Scheduler - queue admission, dispatch, and the single status writer
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
	"github.com/ternarybob/faber/internal/pipeline"
)

// cancelReason disambiguates why a dispatched job's context fired.
type cancelReason int

const (
	reasonNone cancelReason = iota
	reasonUser
	reasonWallClock
)

// activeRun tracks one dispatched pipeline so deletion can cancel it and wait
// for it to drain.
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason cancelReason
}

func (r *activeRun) mark(reason cancelReason) {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
}

func (r *activeRun) markedAs(reason cancelReason) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason == reason
}

// Scheduler owns the in-memory job index, the FIFO queue, and the running
// count. It is the single writer of job status: every transition funnels
// through it, is persisted to the job store, and is journaled. Pipeline
// components report through the JobSink interface and never write status
// themselves.
type Scheduler struct {
	cfg        *common.Config
	store      interfaces.JobStore
	journal    interfaces.EventJournal
	workspaces interfaces.WorkspaceStore
	staging    interfaces.StagingArea
	preflight  *pipeline.Preflight
	executor   interfaces.AssistantExecutor
	sidecar    interfaces.Sidecar
	logger     arbor.ILogger

	mu           sync.Mutex
	index        map[string]*models.Job
	queue        []string
	running      int
	active       map[string]*activeRun
	shuttingDown bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wake       chan struct{}
	wg         sync.WaitGroup
}

// NewScheduler wires the dispatcher over its collaborators.
func NewScheduler(
	cfg *common.Config,
	store interfaces.JobStore,
	journal interfaces.EventJournal,
	workspaces interfaces.WorkspaceStore,
	staging interfaces.StagingArea,
	preflight *pipeline.Preflight,
	executor interfaces.AssistantExecutor,
	sidecar interfaces.Sidecar,
	logger arbor.ILogger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		journal:    journal,
		workspaces: workspaces,
		staging:    staging,
		preflight:  preflight,
		executor:   executor,
		sidecar:    sidecar,
		logger:     logger,
		index:      make(map[string]*models.Job),
		active:     make(map[string]*activeRun),
		baseCtx:    ctx,
		baseCancel: cancel,
		wake:       make(chan struct{}, 1),
	}
}

// Recover rebuilds the in-memory index from persisted records after a
// restart. Jobs that were dispatched but not yet running are rewound to
// Queued and re-enqueued in creation order; jobs that were mid-execution
// cannot be resumed and are failed with a note.
func (s *Scheduler) Recover() error {
	jobs, err := s.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to recover job records: %w", err)
	}

	var requeued, aborted int
	for _, job := range jobs {
		s.mu.Lock()
		s.index[job.ID] = job
		s.mu.Unlock()

		switch job.Status {
		case models.JobStatusQueued, models.JobStatusGitPulling,
			models.JobStatusCidxIndexing, models.JobStatusCidxReady:
			// Pre-flight is repeatable. Discard any half-built workspace so
			// dispatch starts from a fresh clone.
			if job.WorkspacePath != "" {
				if rerr := s.workspaces.Remove(job.WorkspacePath); rerr != nil {
					s.logger.Warn().Err(rerr).Str("job_id", job.ID).Msg("Failed to remove stale workspace during recovery")
				}
				job.WorkspacePath = ""
			}
			// Recovery rewinds the pipeline outside the transition relation.
			job.Status = models.JobStatusQueued
			job.GitStatus = models.GitStatusNotChecked
			if job.Options.CidxAware {
				job.CidxStatus = models.CidxStatusNotStarted
			}
			if err := s.Update(job); err != nil {
				return err
			}
			s.mu.Lock()
			s.queue = append(s.queue, job.ID)
			s.mu.Unlock()
			requeued++

		case models.JobStatusRunning:
			job.AppendOutput("[scheduler] execution aborted by service restart")
			job.Status = models.JobStatusFailed
			now := time.Now().UTC()
			job.CompletedAt = &now
			if err := s.Update(job); err != nil {
				return err
			}
			s.journalEvent(job.ID, job.Status, "aborted by service restart")
			aborted++
		}
	}

	if requeued > 0 || aborted > 0 {
		s.logger.Info().Int("requeued", requeued).Int("aborted", aborted).Msg("Job recovery complete")
	}
	s.signalWake()
	return nil
}

// Run is the dispatch loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-s.wake:
		}
		for {
			job := s.pop()
			if job == nil {
				break
			}
			s.wg.Add(1)
			dispatched := job
			common.SafeGo(s.logger, "pipeline:"+dispatched.ID, func() {
				s.runPipeline(dispatched)
			})
		}
	}
}

// pop removes the queue head when a running slot is free.
func (s *Scheduler) pop() *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown || len(s.queue) == 0 || s.running >= s.cfg.Jobs.MaxConcurrent {
		return nil
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	job, ok := s.index[id]
	if !ok {
		return nil
	}
	s.running++
	return job
}

// Add registers a freshly created job and persists its record.
func (s *Scheduler) Add(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return models.WrapError(models.ErrInvalidInput, "invalid job", err)
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return models.NewError(models.ErrInternal, "service is shutting down")
	}
	s.index[job.ID] = job
	snapshot := job.Clone()
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		return err
	}
	s.journalEvent(job.ID, job.Status, "created")
	return nil
}

// Start moves a created job into the queue. Uploads are frozen from this
// point on.
func (s *Scheduler) Start(jobID string) error {
	s.mu.Lock()
	job, ok := s.index[jobID]
	if !ok {
		s.mu.Unlock()
		return models.NewError(models.ErrNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	if s.shuttingDown {
		s.mu.Unlock()
		return models.NewError(models.ErrInternal, "service is shutting down")
	}
	if err := job.Transition(models.JobStatusQueued); err != nil {
		s.mu.Unlock()
		return models.WrapError(models.ErrInvalidInput, "job cannot be started", err)
	}
	s.queue = append(s.queue, jobID)
	snapshot := job.Clone()
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		return err
	}
	s.journalEvent(jobID, models.JobStatusQueued, "")
	s.signalWake()
	return nil
}

// Get returns a deep copy of the job with its queue position derived.
func (s *Scheduler) Get(jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.index[jobID]
	if !ok {
		return nil, models.NewError(models.ErrNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	c := job.Clone()
	c.QueuePosition = s.positionLocked(jobID)
	return c, nil
}

// ListForUser returns the user's jobs newest first, queue positions derived.
func (s *Scheduler) ListForUser(user string) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.Job
	for _, job := range s.index {
		if job.User != user {
			continue
		}
		c := job.Clone()
		c.QueuePosition = s.positionLocked(job.ID)
		jobs = append(jobs, c)
	}
	sortJobsNewestFirst(jobs)
	return jobs
}

// positionLocked derives the 1-based queue position, 0 when not queued.
func (s *Scheduler) positionLocked(jobID string) int {
	for i, id := range s.queue {
		if id == jobID {
			return i + 1
		}
	}
	return 0
}

// RecordUpload appends an accepted upload to a job that is still accepting
// files. Uploads freeze once the job is started.
func (s *Scheduler) RecordUpload(jobID, originalName string, isImage bool) error {
	s.mu.Lock()
	job, ok := s.index[jobID]
	if !ok {
		s.mu.Unlock()
		return models.NewError(models.ErrNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	if job.Status != models.JobStatusCreated {
		s.mu.Unlock()
		return models.NewError(models.ErrInvalidInput, "uploads are only accepted before the job is started")
	}
	if !containsString(job.UploadedFiles, originalName) {
		job.UploadedFiles = append(job.UploadedFiles, originalName)
	}
	if isImage && !containsString(job.Images, originalName) {
		job.Images = append(job.Images, originalName)
	}
	snapshot := job.Clone()
	s.mu.Unlock()
	return s.store.Save(snapshot)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SetTitle stores the asynchronously derived title. Arriving after the job
// was deleted is not an error.
func (s *Scheduler) SetTitle(jobID, title string) error {
	s.mu.Lock()
	job, ok := s.index[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	job.Title = title
	snapshot := job.Clone()
	s.mu.Unlock()
	return s.store.Save(snapshot)
}

// Delete removes a job and everything it owns: a queued job is cancelled in
// place, a dispatched one is cancelled and drained first. The call is
// synchronous and idempotent; deleting an unknown job is a no-op.
func (s *Scheduler) Delete(jobID string) error {
	s.mu.Lock()
	job, ok := s.index[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	var run *activeRun
	switch {
	case job.Status == models.JobStatusCreated || job.Status == models.JobStatusQueued:
		s.removeFromQueueLocked(jobID)
		if err := job.Transition(models.JobStatusCancelled); err != nil {
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		s.journalEvent(jobID, models.JobStatusCancelled, "deleted by owner")

	case !job.IsTerminal():
		run = s.active[jobID]
		s.mu.Unlock()
		if run != nil {
			run.mark(reasonUser)
			run.cancel()
			<-run.done
		}

	default:
		s.mu.Unlock()
	}

	return s.cleanup(jobID)
}

// cleanup reclaims every resource a job owns and drops it from the index.
func (s *Scheduler) cleanup(jobID string) error {
	s.mu.Lock()
	job, ok := s.index[jobID]
	if ok {
		delete(s.index, jobID)
	}
	s.mu.Unlock()

	if ok && job.WorkspacePath != "" {
		if err := s.sidecar.Stop(job.WorkspacePath); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Sidecar stop failed during delete")
		}
		if err := s.workspaces.Remove(job.WorkspacePath); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Workspace removal failed during delete")
		}
	}
	if err := s.staging.Cleanup(jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Staging cleanup failed during delete")
	}
	if err := s.store.Delete(jobID); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.DeleteForJob(jobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Journal cleanup failed during delete")
		}
	}
	return nil
}

func (s *Scheduler) removeFromQueueLocked(jobID string) {
	for i, id := range s.queue {
		if id == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Shutdown cancels all dispatched pipelines and waits up to the configured
// grace for them to finalize. Queued jobs stay queued; their records survive
// and recovery re-enqueues them on the next start.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace()):
		s.logger.Warn().Msg("Shutdown grace expired with pipelines still draining")
		s.failStragglers()
	}
}

// failStragglers force-fails jobs whose pipelines outlived the shutdown
// grace, so the persisted record explains the abort even when the process
// exits before the goroutine drains. A straggler that finalizes later finds
// the job terminal and leaves it alone.
func (s *Scheduler) failStragglers() {
	s.mu.Lock()
	var stuck []*models.Job
	for id := range s.active {
		if job, ok := s.index[id]; ok && !job.IsTerminal() {
			stuck = append(stuck, job)
		}
	}
	s.mu.Unlock()

	for _, job := range stuck {
		if err := s.Transition(job, models.JobStatusFailed, "[scheduler] aborted by service shutdown"); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to finalize straggler at shutdown")
		}
	}
}

// runPipeline drives one dispatched job: workspace clone, pre-flight,
// supervised execution, finalization.
func (s *Scheduler) runPipeline(job *models.Job) {
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.active[job.ID] = run
	s.mu.Unlock()

	defer func() {
		cancel()
		close(run.done)
		s.mu.Lock()
		delete(s.active, job.ID)
		s.running--
		s.mu.Unlock()
		s.signalWake()
		s.wg.Done()
	}()

	if err := s.provision(job); err != nil {
		s.finalizeError(job, run, jobCtx, nil, err)
		return
	}

	if err := s.Transition(job, models.JobStatusGitPulling, ""); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Dispatch transition failed")
		return
	}

	plan, err := s.preflight.Run(jobCtx, job, s)
	if err != nil {
		s.finalizeError(job, run, jobCtx, nil, err)
		return
	}

	if err := s.Transition(job, models.JobStatusRunning, ""); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Run transition failed")
		return
	}

	timeout := time.Duration(job.Options.TimeoutSeconds) * time.Second
	execCtx, execCancel := context.WithTimeout(jobCtx, timeout)
	defer execCancel()

	result, execErr := s.executor.Execute(execCtx, interfaces.ExecRequest{
		Job:          job,
		SystemPrompt: plan.SystemPrompt,
		Prompt:       plan.Prompt,
		Images:       plan.Images,
	})

	s.stopSidecar(job)

	if result != nil {
		s.mu.Lock()
		job.Output = result.Output
		job.SetExitCode(result.ExitCode)
		s.mu.Unlock()
	}

	if execErr == nil {
		if err := s.Transition(job, models.JobStatusCompleted, ""); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Completion transition failed")
		}
		return
	}

	s.finalizeError(job, run, jobCtx, execCtx, execErr)
}

// provision creates the copy-on-write workspace. Staging may already have
// created the job directory; the clone strategies tolerate that.
func (s *Scheduler) provision(job *models.Job) error {
	path, err := s.workspaces.Clone(job.Repository, job.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	job.WorkspacePath = path
	s.mu.Unlock()
	return s.Update(job)
}

// finalizeError maps a pipeline or execution error onto the job's terminal
// status. Cancellation is classified by which context fired and why: the
// per-job deadline means timeout, a user delete means cancelled, and a
// shutdown abort fails the job so a later inspection shows why it stopped.
func (s *Scheduler) finalizeError(job *models.Job, run *activeRun, jobCtx, execCtx context.Context, cause error) {
	if job.IsTerminal() {
		return
	}

	var next models.JobStatus
	note := cause.Error()

	switch {
	case execCtx != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && jobCtx.Err() == nil:
		next = models.JobStatusTimeout
		note = fmt.Sprintf("execution exceeded %ds timeout", job.Options.TimeoutSeconds)
	case jobCtx.Err() != nil && run.markedAs(reasonUser):
		next = models.JobStatusCancelled
		note = "cancelled by owner"
	case jobCtx.Err() != nil && run.markedAs(reasonWallClock):
		next = models.JobStatusTimeout
		note = "job exceeded the wall-clock age limit"
	case jobCtx.Err() != nil:
		next = models.JobStatusFailed
		note = "aborted by service shutdown"
	case models.IsKind(cause, models.ErrGitFailed):
		next = models.JobStatusGitFailed
	default:
		next = models.JobStatusFailed
	}

	s.stopSidecar(job)

	if err := s.Transition(job, next, "[scheduler] "+note); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("status", string(next)).Msg("Terminal transition failed")
	}
}

// stopSidecar shuts the semantic-index service down if it was ever started.
func (s *Scheduler) stopSidecar(job *models.Job) {
	s.mu.Lock()
	started := job.CidxStatus == models.CidxStatusStarting ||
		job.CidxStatus == models.CidxStatusIndexing ||
		job.CidxStatus == models.CidxStatusReady
	path := job.WorkspacePath
	s.mu.Unlock()
	if !started || path == "" {
		return
	}

	if err := s.sidecar.Stop(path); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Sidecar stop failed")
		return
	}
	s.mu.Lock()
	if job.CidxStatus == models.CidxStatusReady {
		job.CidxStatus = models.CidxStatusStopped
	}
	s.mu.Unlock()
	if err := s.Update(job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist sidecar stop")
	}
}

// Transition implements interfaces.JobSink: it applies the transition under
// the index lock, persists the record, and journals the event.
func (s *Scheduler) Transition(job *models.Job, next models.JobStatus, note string) error {
	s.mu.Lock()
	if err := job.Transition(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if note != "" {
		job.AppendOutput(note)
	}
	snapshot := job.Clone()
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		return err
	}
	s.journalEvent(job.ID, next, note)
	return nil
}

// SetGitStatus implements interfaces.JobSink. Sub-status writes take the
// index lock so concurrent Get/ListForUser clones never observe a torn job.
func (s *Scheduler) SetGitStatus(job *models.Job, status models.GitStatus) error {
	s.mu.Lock()
	job.GitStatus = status
	snapshot := job.Clone()
	s.mu.Unlock()
	return s.store.Save(snapshot)
}

// SetCidxStatus implements interfaces.JobSink.
func (s *Scheduler) SetCidxStatus(job *models.Job, status models.CidxStatus) error {
	s.mu.Lock()
	job.CidxStatus = status
	snapshot := job.Clone()
	s.mu.Unlock()
	return s.store.Save(snapshot)
}

// Update implements interfaces.JobSink for non-status field changes.
func (s *Scheduler) Update(job *models.Job) error {
	s.mu.Lock()
	snapshot := job.Clone()
	s.mu.Unlock()
	return s.store.Save(snapshot)
}

func (s *Scheduler) journalEvent(jobID string, status models.JobStatus, note string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(jobID, status, note); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to journal job event")
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func sortJobsNewestFirst(jobs []*models.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
}
