package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Workspace   WorkspaceConfig `toml:"workspace"`
	Jobs        JobsConfig      `toml:"jobs"`
	Claude      ClaudeConfig    `toml:"claude"`
	Cidx        CidxConfig      `toml:"cidx"`
	Git         GitConfig       `toml:"git"`
	Prompts     PromptsConfig   `toml:"system_prompts"`
	Events      EventsConfig    `toml:"events"`
	Logging     LoggingConfig   `toml:"logging"`
}

// WorkspaceConfig locates registered repositories and per-job workspaces.
type WorkspaceConfig struct {
	RepositoriesPath string `toml:"repositories_path" validate:"required"` // Root of registered repositories
	JobsPath         string `toml:"jobs_path" validate:"required"`         // Root of per-job workspaces, staging, and records
}

// JobsConfig governs admission, timeouts, and retention.
type JobsConfig struct {
	MaxConcurrent        int `toml:"max_concurrent" validate:"gte=1"` // Cap on simultaneously running jobs
	TimeoutHours         int `toml:"timeout_hours" validate:"gte=1"`  // Wall-clock age before workspace reclamation
	RetentionDays        int `toml:"retention_days" validate:"gte=1"` // Age before terminal records are deleted
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds" validate:"gte=1"`
}

// ClaudeConfig describes the assistant CLI and the optional direct API used by
// the title summarizer.
type ClaudeConfig struct {
	Command     string   `toml:"command" validate:"required"` // Assistant program to invoke
	DefaultArgs []string `toml:"default_args"`                // Arguments prepended to every invocation
	APIKey      string   `toml:"api_key"`                     // Optional: enables API-mode title summarization
	Model       string   `toml:"model"`                       // Model for title summarization (API mode)
	MaxTokens   int      `toml:"max_tokens"`                  // Max tokens for title summarization
	RateLimit   string   `toml:"rate_limit"`                  // Minimum interval between summarizer calls
}

// CidxConfig describes the semantic-index sidecar CLI.
type CidxConfig struct {
	Command          string `toml:"command"`           // Semantic-index program (default "cidx")
	ReadinessTimeout string `toml:"readiness_timeout"` // Max wait for the four subservices to report healthy
	PollInterval     string `toml:"poll_interval"`     // Readiness probe interval
}

// GitConfig describes the version-control CLI used during pre-flight.
type GitConfig struct {
	Command     string `toml:"command"`      // git binary (default "git")
	PullTimeout string `toml:"pull_timeout"` // Bounded timeout for git pull
	PullRetries int    `toml:"pull_retries"` // Bounded retries for transient pull failures
}

// PromptsConfig locates the two on-disk system prompt templates.
type PromptsConfig struct {
	CidxAvailableTemplatePath   string `toml:"cidx_available_template_path"`
	CidxUnavailableTemplatePath string `toml:"cidx_unavailable_template_path"`
}

// EventsConfig configures the Badger-backed job event journal.
type EventsConfig struct {
	Path           string `toml:"path"`             // Journal directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete journal on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Workspace: WorkspaceConfig{
			RepositoriesPath: "~/faber/repositories",
			JobsPath:         "~/faber/jobs",
		},
		Jobs: JobsConfig{
			MaxConcurrent:        5,
			TimeoutHours:         24,
			RetentionDays:        30,
			ShutdownGraceSeconds: 30,
		},
		Claude: ClaudeConfig{
			Command:     "claude",
			DefaultArgs: []string{"--print"},
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   256,
			RateLimit:   "1s",
		},
		Cidx: CidxConfig{
			Command:          "cidx",
			ReadinessTimeout: "2m",
			PollInterval:     "2s",
		},
		Git: GitConfig{
			Command:     "git",
			PullTimeout: "2m",
			PullRetries: 1,
		},
		Prompts: PromptsConfig{
			CidxAvailableTemplatePath:   "~/faber/prompts/cidx-available.md",
			CidxUnavailableTemplatePath: "~/faber/prompts/cidx-unavailable.md",
		},
		Events: EventsConfig{
			Path: "~/faber/events",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	expandPaths(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the scheduler cannot honor.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, d := range []struct {
		name, val string
	}{
		{"cidx.readiness_timeout", c.Cidx.ReadinessTimeout},
		{"cidx.poll_interval", c.Cidx.PollInterval},
		{"git.pull_timeout", c.Git.PullTimeout},
		{"claude.rate_limit", c.Claude.RateLimit},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q: %w", d.name, d.val, err)
		}
	}
	return nil
}

// WallClockTimeout returns the wall-clock age threshold for workspace
// reclamation.
func (c *Config) WallClockTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutHours) * time.Hour
}

// Retention returns the age threshold for terminal record deletion.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionDays) * 24 * time.Hour
}

// ShutdownGrace returns the bounded grace for in-flight pipelines at shutdown.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Jobs.ShutdownGraceSeconds) * time.Second
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FABER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("FABER_REPOSITORIES_PATH"); path != "" {
		config.Workspace.RepositoriesPath = path
	}
	if path := os.Getenv("FABER_JOBS_PATH"); path != "" {
		config.Workspace.JobsPath = path
	}
	if v := os.Getenv("FABER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Jobs.MaxConcurrent = n
		}
	}
	if v := os.Getenv("FABER_TIMEOUT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Jobs.TimeoutHours = n
		}
	}
	if v := os.Getenv("FABER_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Jobs.RetentionDays = n
		}
	}
	if cmd := os.Getenv("FABER_CLAUDE_COMMAND"); cmd != "" {
		config.Claude.Command = cmd
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if level := os.Getenv("FABER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FABER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// expandPaths applies home-directory expansion to every configured path.
func expandPaths(config *Config) {
	config.Workspace.RepositoriesPath = ExpandHome(config.Workspace.RepositoriesPath)
	config.Workspace.JobsPath = ExpandHome(config.Workspace.JobsPath)
	config.Events.Path = ExpandHome(config.Events.Path)
	config.Prompts.CidxAvailableTemplatePath = ExpandHome(config.Prompts.CidxAvailableTemplatePath)
	config.Prompts.CidxUnavailableTemplatePath = ExpandHome(config.Prompts.CidxUnavailableTemplatePath)
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
