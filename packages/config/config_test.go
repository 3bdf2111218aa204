package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.TimeoutMs)
	assert.Equal(t, []string{"console"}, cfg.Reporters)
	assert.False(t, cfg.GetParallel())
	assert.False(t, cfg.GetBail())
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".moth.config.json")
	content := `{
		"retries": 2,
		"retryStrategy": "exponential",
		"parallel": true,
		"concurrency": 8,
		"reporters": ["json", "junit"],
		"failOnScriptError": true,
		"historyDb": "runs.db"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := FindAndLoad(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, "exponential", cfg.RetryStrategy)
	assert.True(t, cfg.GetParallel())
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"json", "junit"}, cfg.Reporters)
	assert.True(t, cfg.GetFailOnScript())
	assert.Equal(t, "runs.db", cfg.HistoryDB)
	// untouched fields keep defaults
	assert.Equal(t, 30000, cfg.TimeoutMs)
}

func TestLoad_ExplicitPathErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moth.config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := FindAndLoad(dir)
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".moth.config.json")
	cfg := Default()
	cfg.Parallel = BoolPtr(true)
	require.NoError(t, cfg.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.GetParallel())
}
