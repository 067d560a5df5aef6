package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "./data/skills", cfg.Store.Path)
	assert.False(t, cfg.Store.Bare)
	assert.Equal(t, "skills", cfg.Index.Collection)
	assert.Equal(t, 256, cfg.Index.Dims)
	assert.Equal(t, 30*time.Second, cfg.Hub.Heartbeat)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BARE", "true")
	t.Setenv("INDEX_DIMS", "128")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.Store.Bare)
	assert.Equal(t, 128, cfg.Index.Dims)
}

func TestLoadFileOverlaysEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  port: \"7000\"\nindex:\n  collection: lab\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port, "file values win over environment")
	assert.Equal(t, "lab", cfg.Index.Collection)
	assert.Equal(t, "./data/skills", cfg.Store.Path, "keys absent from the file keep their defaults")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/does/not/exist.yaml")
	assert.Error(t, err)
}
