package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "12310", cfg.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 100, cfg.Limits.Basic)
	assert.Equal(t, 500, cfg.Limits.Pro)
	assert.Equal(t, 1000, cfg.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 0.001)
	assert.False(t, cfg.CompatUsageWrites)
	assert.Contains(t, cfg.Persona, "automotive")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
limits:
  basic: 50
  pro: 200
persona: "You are a terse mechanic."
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 50, cfg.Limits.Basic)
	assert.Equal(t, 200, cfg.Limits.Pro)
	assert.Equal(t, "You are a terse mechanic.", cfg.Persona)
	// Untouched keys keep defaults.
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`port: "9000"`), 0o600))

	t.Setenv("ASSISTANT_PORT", "7777")
	t.Setenv("ASSISTANT_COMPAT_USAGE_WRITES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Port)
	assert.True(t, cfg.CompatUsageWrites)
}

func TestLoadRejectsBadLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  basic: 0
  pro: 500
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
