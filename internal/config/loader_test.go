package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLayersBaseThenEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"scheduler:\n concurrency: 4\nupsert:\n match_threshold: 0.8\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.production.yaml"), []byte(
		"environment: production\nscheduler:\n concurrency: 16\n"), 0o644))

	t.Setenv("KGRAPH_ENVIRONMENT", "production")

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, Production, cfg.Environment)
	assert.Equal(t, 16, cfg.Scheduler.Concurrency)
	assert.Equal(t, 0.8, cfg.Upsert.MatchThreshold)
	assert.Contains(t, cfg.LoadedFrom, filepath.Join(dir, "config.yaml"))
	assert.Contains(t, cfg.LoadedFrom, filepath.Join(dir, "config.production.yaml"))
}

func TestLoaderEnvVarOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KGRAPH_SCHEDULER_CONCURRENCY", "32")

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Scheduler.Concurrency)
}

func TestLoaderRejectsInvalidVocabZones(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"vocab:\n min_comfort: 100\n soft_max: 50\n hard_max: 200\n"), 0o644))

	_, err := NewLoader(dir).Load()
	assert.Error(t, err)
}
