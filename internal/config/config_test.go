package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rursache/KDECodexBar/internal/provider"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codexbar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
refresh-interval-seconds: 180
debug: true
claude-binary: /opt/claude/bin/claude
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 180, cfg.RefreshIntervalSeconds)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/opt/claude/bin/claude", cfg.ClaudeBinary)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestIntervalConversion(t *testing.T) {
	assert.Equal(t, provider.Manual, Config{RefreshIntervalSeconds: 0}.Interval())
	assert.Equal(t, provider.Manual, Config{RefreshIntervalSeconds: -5}.Interval())
	assert.Equal(t, provider.Interval(60*time.Second), Config{RefreshIntervalSeconds: 60}.Interval())
}

func TestWatchFileNotifiesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codexbar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh-interval-seconds: 60\n"), 0o644))

	changed := make(chan Config, 1)
	stop, err := WatchFile(path, func(cfg Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("refresh-interval-seconds: 300\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 300, cfg.RefreshIntervalSeconds)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change notification")
	}
}
