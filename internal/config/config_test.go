package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://call.element.io", cfg.Call.DefaultBaseURL)
	assert.Equal(t, 5*time.Second, cfg.Broker.RequestTimeout)
	assert.Zero(t, cfg.Broker.DiscoveryTTL)
	assert.Equal(t, 3, cfg.Session.ScanAttempts)
	assert.Equal(t, time.Second, cfg.Session.ScanBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Session.PlayTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.DetectDelay)
	assert.Equal(t, 20, cfg.API.RateLimit)
	assert.Equal(t, time.Minute, cfg.API.RateInterval)
	assert.Equal(t, 54*time.Second, cfg.Feed.PingPeriod)

	assert.Error(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
port: 9090
matrix:
  homeserver_url: https://hs.example.org
  user_id: "@bot:example.org"
  access_token: from-file
session:
  scan_base_delay: 250ms
broker:
  discovery_ttl: 1m
`), 0o600))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CALLBOT_MATRIX_ACCESS_TOKEN", "from-env")
	t.Setenv("CALLBOT_SESSION_SCAN_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://hs.example.org", cfg.Matrix.HomeserverURL)
	assert.Equal(t, "@bot:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "from-env", cfg.Matrix.AccessToken)
	assert.Equal(t, 5, cfg.Session.ScanAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.ScanBaseDelay)
	assert.Equal(t, time.Minute, cfg.Broker.DiscoveryTTL)
	assert.NoError(t, cfg.Validate())
}
