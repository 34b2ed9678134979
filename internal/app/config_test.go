package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 15*time.Second, cfg.Dispatch.CancelWindow)
	require.Equal(t, 3*time.Second, cfg.Dispatch.ClaimAttemptTimeout)
	require.Zero(t, cfg.Dispatch.ClaimTimeout)
	require.Equal(t, 5*time.Minute, cfg.Dispatch.SLA.High)
	require.Equal(t, 15*time.Minute, cfg.Dispatch.SLA.Medium)
	require.Equal(t, time.Hour, cfg.Dispatch.SLA.Low)
	require.Equal(t, 5.0, cfg.Dispatch.DefaultRadiusKm)
	require.Equal(t, 3, cfg.Dispatch.Fanout.MaxAttempts)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
dispatch:
  cancel_window: 30s
  sla:
    high: 2m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 30*time.Second, cfg.Dispatch.CancelWindow)
	require.Equal(t, 2*time.Minute, cfg.Dispatch.SLA.High)
	// Untouched keys keep defaults.
	require.Equal(t, 15*time.Minute, cfg.Dispatch.SLA.Medium)
}
