package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/takumi/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "tools"), cfg.ToolsDir)
	assert.Equal(t, filepath.Join("data", "flows"), cfg.FlowsDir)
	assert.Equal(t, filepath.Join("data", "logs"), cfg.LogsDir)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "takumi", cfg.ServiceName)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TAKUMI_PORT", "9999")
	t.Setenv("TAKUMI_DATA_DIR", "/var/lib/takumi")
	t.Setenv("TAKUMI_FLOWS_DIR", "/srv/flows")
	t.Setenv("TAKUMI_READ_TIMEOUT", "5s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/var/lib/takumi", cfg.DataDir)
	// Unset dirs follow the data dir; explicitly set dirs do not.
	assert.Equal(t, filepath.Join("/var/lib/takumi", "tools"), cfg.ToolsDir)
	assert.Equal(t, "/srv/flows", cfg.FlowsDir)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TAKUMI_PORT", "not-a-number")
	t.Setenv("TAKUMI_READ_TIMEOUT", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	bad := cfg
	bad.Port = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.ToolsDir = ""
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MaxRequestBodyBytes = -1
	require.Error(t, bad.Validate())
}

func TestDirLayout(t *testing.T) {
	l := config.DirLayout("/tmp/t")
	assert.Equal(t, "/tmp/t", l.DataDir)
	assert.Equal(t, filepath.Join("/tmp/t", "tools"), l.ToolsDir)
	assert.Equal(t, filepath.Join("/tmp/t", "flows"), l.FlowsDir)
	assert.Equal(t, filepath.Join("/tmp/t", "logs"), l.LogsDir)
}
