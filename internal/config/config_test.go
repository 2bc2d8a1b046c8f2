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

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr())
	assert.Equal(t, 24*time.Hour, cfg.Server.TokenTTL)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Platform.Timeout)
	assert.Equal(t, "8.8.8.8", cfg.Diag.PingHost)
	assert.Equal(t, 100.0, cfg.Diag.JitterCeilingMs)
	assert.Equal(t, 2*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, 85, cfg.Engine.TargetSignal)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
server:
  port: 9100
diag:
  ping_host: 1.1.1.1
  jitter_ceiling_ms: 333
engine:
  monitor_interval: 5s
  shaping_headroom: 0.8
platform:
  ssh:
    host: 192.168.1.1
`), 0o600))
	t.Setenv("SBOOST_SERVER_ADMIN_PASS", "hunter2")
	t.Setenv("SBOOST_ENGINE_REAPPLY_INTERVAL", "1m")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Server.AdminPass)
	assert.Equal(t, "1.1.1.1", cfg.Diag.PingHost)
	assert.Equal(t, 333.0, cfg.Diag.JitterCeilingMs)
	assert.Equal(t, 4, cfg.Diag.PingCount)
	assert.Equal(t, 5*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, time.Minute, cfg.Engine.ReapplyInterval)
	assert.Equal(t, 0.8, cfg.Engine.ShapingHeadroom)
	assert.Equal(t, "192.168.1.1", cfg.Platform.SSH.Host)
	assert.Equal(t, "root", cfg.Platform.SSH.User)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\nstore:\n  path: \"\"\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "store.path")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
