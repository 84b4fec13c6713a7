package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faber.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	cfg, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.WallClockTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, "claude", cfg.Claude.Command)
	assert.Equal(t, []string{"--print"}, cfg.Claude.DefaultArgs)
	assert.Equal(t, "cidx", cfg.Cidx.Command)
	assert.Equal(t, "git", cfg.Git.Command)
}

func TestLoadFromFiles_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[jobs]
max_concurrent = 2
timeout_hours = 1

[claude]
command = "claude-next"
`)

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.WallClockTimeout())
	assert.Equal(t, "claude-next", cfg.Claude.Command)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30, cfg.Jobs.RetentionDays)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	base := writeConfigFile(t, "[jobs]\nmax_concurrent = 2\n")
	local := writeConfigFile(t, "[jobs]\nmax_concurrent = 9\n")

	cfg, err := LoadFromFiles(base, local)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Jobs.MaxConcurrent)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "[jobs]\nmax_concurrent = 2\n")
	t.Setenv("FABER_MAX_CONCURRENT", "7")
	t.Setenv("FABER_JOBS_PATH", "/srv/faber/jobs")

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "/srv/faber/jobs", cfg.Workspace.JobsPath)
}

func TestLoadFromFiles_AnthropicKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Claude.APIKey)

	// A key in the file beats the environment.
	path := writeConfigFile(t, "[claude]\napi_key = \"sk-file\"\n")
	cfg, err = LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Claude.APIKey)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadFromFiles_MalformedToml(t *testing.T) {
	path := writeConfigFile(t, "[jobs\nmax_concurrent = ")
	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
		{"zero timeout", func(c *Config) { c.Jobs.TimeoutHours = 0 }},
		{"zero retention", func(c *Config) { c.Jobs.RetentionDays = 0 }},
		{"missing jobs path", func(c *Config) { c.Workspace.JobsPath = "" }},
		{"missing claude command", func(c *Config) { c.Claude.Command = "" }},
		{"bad pull timeout", func(c *Config) { c.Git.PullTimeout = "soon" }},
		{"bad rate limit", func(c *Config) { c.Claude.RateLimit = "often" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "faber/jobs"), ExpandHome("~/faber/jobs"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "", ExpandHome(""))
}
