package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ".rhema", cfg.Discovery.ScopeMarker)
	require.Greater(t, cfg.Cache.Capacity, 0)
	require.False(t, cfg.Logging.DebugMode)
}

func TestDefaultConfigSetsTelemetryDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Greater(t, cfg.Telemetry.SlowQueryThresholdMs, int64(0))
	require.Equal(t, ".rhema/telemetry.db", cfg.Telemetry.PersistPath)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Cache.Capacity = 42
	cfg.Logging.DebugMode = true

	require.NoError(t, Save(root, cfg))
	require.FileExists(t, filepath.Join(root, ".rhema", ConfigFileName))

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, 42, loaded.Cache.Capacity)
	require.True(t, loaded.Logging.DebugMode)
}
