// -----------------------------------------------------------------------
// Cidx sidecar - per-job semantic-index service lifecycle
// -----------------------------------------------------------------------

package sidecar

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/models"
)

// requiredServices are the sidecar subservices that must all report healthy
// before the index is usable.
var requiredServices = []string{"qdrant", "ollama", "data-cleaner", "indexer"}

// CidxManager starts, probes, and stops the containerized semantic-index
// sidecar scoped to a workspace.
type CidxManager struct {
	command          string
	readinessTimeout time.Duration
	pollInterval     time.Duration
	logger           arbor.ILogger

	// run executes the cidx CLI in a workspace. Test hook.
	run func(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// NewCidxManager creates a sidecar manager from configuration.
func NewCidxManager(cfg *common.CidxConfig, logger arbor.ILogger) *CidxManager {
	command := cfg.Command
	if command == "" {
		command = "cidx"
	}
	readinessTimeout := 2 * time.Minute
	if cfg.ReadinessTimeout != "" {
		if d, err := time.ParseDuration(cfg.ReadinessTimeout); err == nil {
			readinessTimeout = d
		}
	}
	pollInterval := 2 * time.Second
	if cfg.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.PollInterval); err == nil {
			pollInterval = d
		}
	}
	m := &CidxManager{
		command:          command,
		readinessTimeout: readinessTimeout,
		pollInterval:     pollInterval,
		logger:           logger,
	}
	m.run = func(ctx context.Context, dir string, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, m.command, args...)
		cmd.Dir = dir
		return cmd.CombinedOutput()
	}
	return m
}

// SetRunner replaces the CLI runner. Test hook.
func (m *CidxManager) SetRunner(run func(ctx context.Context, dir string, args ...string) ([]byte, error)) {
	m.run = run
}

// Start brings the sidecar up for the workspace.
func (m *CidxManager) Start(ctx context.Context, workspacePath string) error {
	out, err := m.run(ctx, workspacePath, "start")
	if err != nil {
		return models.WrapError(models.ErrCidxFailed,
			fmt.Sprintf("cidx start failed: %s", strings.TrimSpace(string(out))), err)
	}
	m.logger.Debug().Str("workspace", workspacePath).Msg("Cidx sidecar started")
	return nil
}

// WaitReady polls the readiness probe until all declared subservices report
// healthy or the bounded timeout elapses.
func (m *CidxManager) WaitReady(ctx context.Context, workspacePath string) error {
	deadline, cancel := context.WithTimeout(ctx, m.readinessTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var lastStatus string
	for {
		out, err := m.run(deadline, workspacePath, "status")
		if err == nil {
			lastStatus = string(out)
			if missing := unhealthyServices(lastStatus); len(missing) == 0 {
				m.logger.Info().Str("workspace", workspacePath).Msg("Cidx sidecar ready")
				return nil
			}
		}

		select {
		case <-deadline.Done():
			return models.WrapError(models.ErrCidxFailed,
				fmt.Sprintf("cidx did not become ready within %s; unhealthy: %v",
					m.readinessTimeout, unhealthyServices(lastStatus)),
				deadline.Err())
		case <-ticker.C:
		}
	}
}

// Stop tears the sidecar down. Errors are logged, not returned, because stop
// runs on cleanup paths that must proceed regardless.
func (m *CidxManager) Stop(workspacePath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if out, err := m.run(ctx, workspacePath, "stop"); err != nil {
		m.logger.Warn().
			Err(err).
			Str("workspace", workspacePath).
			Str("output", strings.TrimSpace(string(out))).
			Msg("cidx stop failed")
		return nil
	}
	m.logger.Debug().Str("workspace", workspacePath).Msg("Cidx sidecar stopped")
	return nil
}

// unhealthyServices parses `cidx status` output and returns the required
// services not yet reporting ready. Status lines look like
// "qdrant: ready" or "ollama: starting".
func unhealthyServices(status string) []string {
	healthy := make(map[string]bool)
	for _, line := range strings.Split(status, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		state := strings.ToLower(strings.TrimSpace(parts[1]))
		if state == "ready" || state == "healthy" || state == "running" {
			healthy[name] = true
		}
	}

	var missing []string
	for _, svc := range requiredServices {
		if !healthy[svc] {
			missing = append(missing, svc)
		}
	}
	return missing
}
