package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Sync.MaxBatchSize)
	assert.Equal(t, 3, cfg.Sync.RetryCeiling)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 10, cfg.Sync.API.RecordsPerCall)
	assert.Equal(t, 60, cfg.Sync.API.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Sync.Source.NumericPrecision)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	env := "SYNC_MAX_BATCH_SIZE=20\nSYNC_API_TOKEN=secret\nSYNC_SOURCE_TABLE=purchase_orders\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SYNC_MAX_BATCH_SIZE")
		os.Unsetenv("SYNC_API_TOKEN")
		os.Unsetenv("SYNC_SOURCE_TABLE")
	})

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Sync.MaxBatchSize)
	assert.Equal(t, "secret", cfg.Sync.API.Token)
	assert.Equal(t, "purchase_orders", cfg.Sync.Source.Table)
}
