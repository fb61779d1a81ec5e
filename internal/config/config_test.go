package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFileFound(t *testing.T) {
	t.Setenv("SPARKQ_CONFIG", "")
	dir := t.TempDir()
	restoreWd(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5005, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Purge.OlderThanDays)
	assert.Equal(t, 120, cfg.TaskClasses["FAST_SCRIPT"].Timeout)
}

func TestLoadFromSparkqConfigEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
project:
  name: demo
server:
  port: 9090
purge:
  older_than_days: 7
`), 0o644))
	t.Setenv("SPARKQ_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Purge.OlderThanDays)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644))
	t.Setenv("SPARKQ_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestTaskClassTimeoutsOverridesDefaults(t *testing.T) {
	cfg := defaults()
	cfg.TaskClasses["LLM_HEAVY"] = TaskClassConfig{Timeout: 1800}

	timeouts := cfg.TaskClassTimeouts()
	assert.Equal(t, 1800, timeouts["LLM_HEAVY"])
	assert.Equal(t, 480, timeouts["LLM_LITE"])
}

func TestHolderReloadSwapsRatherThanMutates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0o644))
	t.Setenv("SPARKQ_CONFIG", path)

	h, err := NewHolder()
	require.NoError(t, err)
	first := h.Get()
	assert.Equal(t, 6000, first.Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6001\n"), 0o644))
	_, err = h.Reload()
	require.NoError(t, err)

	assert.Equal(t, 6000, first.Server.Port, "previously returned value must not mutate")
	assert.Equal(t, 6001, h.Get().Server.Port)
}

func restoreWd(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}
