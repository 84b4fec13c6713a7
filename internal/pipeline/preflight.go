// -----------------------------------------------------------------------
// Pre-flight - git pull, staging materialization, cidx bring-up, prompt
// composition
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/interfaces"
	"github.com/ternarybob/faber/internal/models"
)

// ExecPlan is the composed input handed to the executor after pre-flight.
type ExecPlan struct {
	SystemPrompt string
	Prompt       string
	Images       []string
}

// fallback templates used when the configured files are unreadable.
const (
	defaultAvailableTemplate   = "A semantic code index is running for this workspace. Prefer `cidx query` for code search before falling back to grep."
	defaultUnavailableTemplate = "No semantic code index is available. Use classic textual search tools (grep, rg, find) to explore the workspace."
)

// Preflight executes the ordered steps between dispatch and execution.
type Preflight struct {
	cfg     *common.Config
	staging interfaces.StagingArea
	git     *GitClient
	sidecar interfaces.Sidecar
	logger  arbor.ILogger
}

// NewPreflight wires the pre-flight steps.
func NewPreflight(cfg *common.Config, staging interfaces.StagingArea, git *GitClient, sidecar interfaces.Sidecar, logger arbor.ILogger) *Preflight {
	return &Preflight{
		cfg:     cfg,
		staging: staging,
		git:     git,
		sidecar: sidecar,
		logger:  logger,
	}
}

// Run performs git pull, staged-file materialization, and sidecar bring-up,
// then composes the executor's prompt inputs. Failures update the relevant
// sub-status and return a classified error; the caller owns the terminal
// transition. The job is in GitPulling when Run is entered.
func (p *Preflight) Run(ctx context.Context, job *models.Job, sink interfaces.JobSink) (*ExecPlan, error) {
	if err := p.gitStep(ctx, job, sink); err != nil {
		return nil, err
	}
	if err := p.materializeStep(job, sink); err != nil {
		return nil, err
	}
	if err := p.cidxStep(ctx, job, sink); err != nil {
		return nil, err
	}
	return p.compose(job), nil
}

func (p *Preflight) gitStep(ctx context.Context, job *models.Job, sink interfaces.JobSink) error {
	if !job.Options.GitAware {
		return nil
	}

	if !p.git.IsGitRepository(job.WorkspacePath) {
		p.logger.Debug().Str("job_id", job.ID).Msg("Workspace is not a git tree, skipping pull")
		return sink.SetGitStatus(job, models.GitStatusNotGitRepo)
	}

	if err := sink.SetGitStatus(job, models.GitStatusChecking); err != nil {
		return err
	}

	if err := p.git.Pull(ctx, job.WorkspacePath); err != nil {
		if uerr := sink.SetGitStatus(job, models.GitStatusFailed); uerr != nil {
			return uerr
		}
		return models.WrapError(models.ErrGitFailed, "git pull failed", err)
	}

	return sink.SetGitStatus(job, models.GitStatusPulled)
}

func (p *Preflight) materializeStep(job *models.Job, sink interfaces.JobSink) error {
	count, err := p.staging.Materialize(job.ID, job.WorkspacePath)
	if err != nil {
		// Staging is preserved for manual recovery.
		return err
	}
	if count == 0 {
		return nil
	}

	if err := p.staging.Cleanup(job.ID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove staging after materialize")
	}
	p.logger.Info().Str("job_id", job.ID).Int("count", count).Msg("Uploads materialized into workspace")
	return sink.Update(job)
}

func (p *Preflight) cidxStep(ctx context.Context, job *models.Job, sink interfaces.JobSink) error {
	if !job.Options.CidxAware {
		// CidxStatus stays at its NotStarted default.
		return nil
	}

	if err := sink.Transition(job, models.JobStatusCidxIndexing, ""); err != nil {
		return err
	}
	if err := sink.SetCidxStatus(job, models.CidxStatusStarting); err != nil {
		return err
	}

	if err := p.sidecar.Start(ctx, job.WorkspacePath); err != nil {
		return p.cidxFailed(job, sink, err)
	}

	if err := sink.SetCidxStatus(job, models.CidxStatusIndexing); err != nil {
		return err
	}

	if err := p.sidecar.WaitReady(ctx, job.WorkspacePath); err != nil {
		return p.cidxFailed(job, sink, err)
	}

	if err := sink.SetCidxStatus(job, models.CidxStatusReady); err != nil {
		return err
	}
	return sink.Transition(job, models.JobStatusCidxReady, "")
}

// cidxFailed records the sub-status; the job fails as a whole because it
// opted into semantic search and running without it would silently degrade
// behavior.
func (p *Preflight) cidxFailed(job *models.Job, sink interfaces.JobSink, cause error) error {
	if uerr := sink.SetCidxStatus(job, models.CidxStatusFailed); uerr != nil {
		return uerr
	}
	return models.WrapError(models.ErrCidxFailed, "semantic-index bring-up failed", cause)
}

// compose selects the system-prompt template by sidecar availability and
// resolves prompt placeholders against the materialized files.
func (p *Preflight) compose(job *models.Job) *ExecPlan {
	templatePath := p.cfg.Prompts.CidxUnavailableTemplatePath
	fallback := defaultUnavailableTemplate
	if job.CidxStatus == models.CidxStatusReady {
		templatePath = p.cfg.Prompts.CidxAvailableTemplatePath
		fallback = defaultAvailableTemplate
	}

	systemPrompt := fallback
	if data, err := os.ReadFile(templatePath); err == nil {
		systemPrompt = string(data)
	} else if templatePath != "" {
		p.logger.Warn().Err(err).Str("path", templatePath).Msg("System prompt template unreadable, using fallback")
	}

	images := make([]string, 0, len(job.Images))
	for _, name := range job.Images {
		images = append(images, filepath.Join(job.WorkspacePath, "files", filepath.FromSlash(name)))
	}

	return &ExecPlan{
		SystemPrompt: systemPrompt,
		Prompt:       ResolvePlaceholders(job.Prompt, job.UploadedFiles),
		Images:       images,
	}
}
