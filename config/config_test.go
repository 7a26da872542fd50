package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Pagination.StableRounds)
	assert.Equal(t, 50, cfg.Pagination.MaxIterations)
	assert.Equal(t, 2, cfg.Interaction.MaxAttempts)
	assert.Equal(t, "jsonl", cfg.Output.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HARVEST_EMAIL", "user@example.com")
	t.Setenv("HARVEST_STABLE_ROUNDS", "5")
	t.Setenv("HARVEST_SETTLE_DELAY", "250ms")
	t.Setenv("HARVEST_BLOCKED_RESOURCES", "Image, Font")

	cfg := Load()
	assert.Equal(t, "user@example.com", cfg.Session.Email)
	assert.Equal(t, 5, cfg.Pagination.StableRounds)
	assert.Equal(t, 250*time.Millisecond, cfg.Interaction.SettleDelay)
	assert.Equal(t, []string{"Image", "Font"}, cfg.Browser.BlockedResourceTypes)
}

func TestLoadFile_LayersOverEnv(t *testing.T) {
	t.Setenv("HARVEST_PASSWORD", "from-env")
	t.Setenv("HARVEST_RATE", "2")

	dir := t.TempDir()
	base := filepath.Join(dir, "harvest.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
browser:
  headless: false
session:
  login_url: https://app.example.com/
pagination:
  max_iterations: 20
output:
  path: courses.jsonl
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harvest.local.yaml"), []byte(`
output:
  path: courses.local.jsonl
`), 0o644))

	cfg, err := LoadFile(base)
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "https://app.example.com/", cfg.Session.LoginURL)
	assert.Equal(t, 20, cfg.Pagination.MaxIterations)
	assert.Equal(t, 3, cfg.Pagination.StableRounds)
	assert.Equal(t, 2.0, cfg.Run.Rate)
	assert.Equal(t, "from-env", cfg.Session.Password)
	assert.Equal(t, "courses.local.jsonl", cfg.Output.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stable rounds below three", func(c *Config) { c.Pagination.StableRounds = 2 }},
		{"zero ceiling", func(c *Config) { c.Pagination.MaxIterations = 0 }},
		{"zero attempts", func(c *Config) { c.Interaction.MaxAttempts = 0 }},
		{"three attempts", func(c *Config) { c.Interaction.MaxAttempts = 3 }},
		{"unknown format", func(c *Config) { c.Output.Format = "csv" }},
		{"zero rate", func(c *Config) { c.Run.Rate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
