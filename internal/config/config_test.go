package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setHome points HOME at a temp dir and returns the allowed config path.
func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "vectord")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return filepath.Join(dir, "config.yaml")
}

func TestLoadWithFileDefaults(t *testing.T) {
	setHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8480, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.Equal(t, 3, cfg.Defaults.OverfetchFactor)
	assert.Equal(t, 0.97, cfg.Defaults.CacheSimilarityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Defaults.CacheTTL.Duration())
	assert.Equal(t, 1.5, cfg.Defaults.DriftThreshold)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadWithFileYAML(t *testing.T) {
	path := setHome(t)
	yaml := `
server:
  http_port: 9000
  shutdown_timeout: 30s
logging:
  level: debug
  encoding: console
storage:
  data_dir: /var/lib/vectord
defaults:
  overfetch_factor: 5
  cache_ttl: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, "/var/lib/vectord", cfg.Storage.DataDir)
	assert.Equal(t, 5, cfg.Defaults.OverfetchFactor)
	assert.Equal(t, time.Minute, cfg.Defaults.CacheTTL.Duration())
	// Untouched fields still get defaults.
	assert.Equal(t, 0.05, cfg.Defaults.SelectivityRatio)
}

func TestLoadWithFileEnvOverridesFile(t *testing.T) {
	path := setHome(t)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0600))
	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("LOGGING_LEVEL", "warn")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadWithFileRejectsInsecurePermissions(t *testing.T) {
	path := setHome(t)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadWithFileRejectsOutsidePath(t *testing.T) {
	setHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server: {}\n"), 0600))

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad encoding", func(c *Config) { c.Logging.Encoding = "xml" }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"overfetch below one", func(c *Config) { c.Defaults.OverfetchFactor = -1 }},
		{"selectivity out of range", func(c *Config) { c.Defaults.SelectivityRatio = 1.5 }},
		{"similarity out of range", func(c *Config) { c.Defaults.CacheSimilarityThreshold = 1.2 }},
		{"drift at or below one", func(c *Config) { c.Defaults.DriftThreshold = 1.0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base().Validate())
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("swordfish")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "swordfish", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}
