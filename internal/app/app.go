// -----------------------------------------------------------------------
// App - component wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/executor"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/pipeline"
	"github.com/ternarybob/faber/internal/registry"
	"github.com/ternarybob/faber/internal/scheduler"
	jobsvc "github.com/ternarybob/faber/internal/services/jobs"
	"github.com/ternarybob/faber/internal/services/title"
	"github.com/ternarybob/faber/internal/sidecar"
	badgerstore "github.com/ternarybob/faber/internal/storage/badger"
	"github.com/ternarybob/faber/internal/storage/jobstore"
	"github.com/ternarybob/faber/internal/workspace"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Registry   interfaces.RepositoryRegistry
	Workspaces interfaces.WorkspaceStore
	Staging    interfaces.StagingArea
	JobStore   interfaces.JobStore
	Journal    interfaces.EventJournal

	Scheduler  *scheduler.Scheduler
	Reaper     *scheduler.Reaper
	JobService *jobsvc.Service

	cancelRun context.CancelFunc
}

// New initializes the application with all dependencies. Startup order:
// storage first, then the execution pipeline, then the scheduler, then
// recovery of persisted records.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := os.MkdirAll(cfg.Workspace.JobsPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace.RepositoriesPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repositories directory: %w", err)
	}

	reg, err := registry.New(cfg.Workspace.RepositoriesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository registry: %w", err)
	}
	app.Registry = reg

	app.Workspaces = workspace.NewStore(cfg.Workspace.JobsPath, reg, logger)
	app.Staging = workspace.NewStaging(cfg.Workspace.JobsPath, logger)

	store, err := jobstore.NewStore(cfg.Workspace.JobsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	app.JobStore = store

	db, err := badgerstore.NewBadgerDB(logger, &cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}
	app.Journal = badgerstore.NewEventJournal(db, logger)

	cidx := sidecar.NewCidxManager(&cfg.Cidx, logger)
	git := pipeline.NewGitClient(&cfg.Git, logger)
	preflight := pipeline.NewPreflight(cfg, app.Staging, git, cidx, logger)
	exec := executor.NewClaudeExecutor(&cfg.Claude, executor.SudoImpersonator{}, logger)

	app.Scheduler = scheduler.NewScheduler(
		cfg, app.JobStore, app.Journal, app.Workspaces, app.Staging,
		preflight, exec, cidx, logger,
	)
	app.Reaper = scheduler.NewReaper(cfg, app.Scheduler, logger)

	summarizer := title.NewSummarizer(&cfg.Claude, logger)
	app.JobService = jobsvc.NewService(
		cfg, app.Scheduler, app.Staging, app.Registry, app.Journal, summarizer, logger,
	)

	if err := app.Scheduler.Recover(); err != nil {
		return nil, fmt.Errorf("failed to recover persisted jobs: %w", err)
	}

	logger.Info().
		Str("repositories", cfg.Workspace.RepositoriesPath).
		Str("jobs", cfg.Workspace.JobsPath).
		Int("max_concurrent", cfg.Jobs.MaxConcurrent).
		Msg("Application initialized")

	return app, nil
}

// Start launches the dispatch loop and the reaper.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	go a.Scheduler.Run(ctx)

	if err := a.Reaper.Start(); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	return nil
}

// Shutdown stops admission, drains dispatched pipelines within the grace
// window, and closes storage.
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down")

	a.Reaper.Stop()
	a.Scheduler.Shutdown()
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if err := a.Journal.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event journal")
	}
	a.Logger.Info().Msg("Shutdown complete")
}
