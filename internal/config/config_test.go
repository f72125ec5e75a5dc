package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "authsource.db", cfg.Database.Path)
	assert.Equal(t, 500, cfg.Sweep.BatchSize)
}

func TestLoadFromFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("database:\n  path: /tmp/engine.db\nsweep:\n  batch_size: 50\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/engine.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Sweep.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level, "unset sections keep defaults")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sweep.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
