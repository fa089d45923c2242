package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtmp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "sellout.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.InDelta(t, 0.5, cfg.Pipeline.MinConfidence, 0.001)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxInsertAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.JobTimeout())
	assert.Equal(t, "EUR", cfg.Pipeline.ReportingCurrency)
	assert.Equal(t, 2015, cfg.Pipeline.MinYear)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 64, cfg.Worker.QueueDepth)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 32<<20, cfg.Server.MaxUploadBytes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtmp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /data/sellout.db
pipeline:
  min_confidence: 0.7
  batch_size: 250
  reporting_currency: USD
worker:
  count: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/data/sellout.db", cfg.Store.SQLitePath)
	assert.InDelta(t, 0.7, cfg.Pipeline.MinConfidence, 0.001)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, "USD", cfg.Pipeline.ReportingCurrency)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	chtmp(t)
	t.Setenv("SELLOUT_STORE_DRIVER", "sqlite")
	t.Setenv("SELLOUT_PIPELINE_REPORTING_CURRENCY", "SEK")
	t.Setenv("SELLOUT_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "SEK", cfg.Pipeline.ReportingCurrency)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
