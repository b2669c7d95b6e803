package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFallsBackToDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadDecodesOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  proxy_socket: ./hc.sock
batching:
  max_size: 50
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./hc.sock", cfg.Server.ProxySocket)
	require.Equal(t, 50, cfg.Batching.MaxSize)
	// Fields absent from the file keep their Default() value.
	require.Equal(t, 100*time.Millisecond, cfg.Batching.Delay)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOutOfRangeValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batching:
  max_size: 0
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "batching.max_size", verr.Field)
}

func TestValidateProxySocket(t *testing.T) {
	cfg := Default()

	cfg.Server.ProxySocket = "relative/not/dotted.sock"
	require.Error(t, cfg.Validate())

	cfg.Server.ProxySocket = "./relative.sock"
	require.NoError(t, cfg.Validate())

	cfg.Server.ProxySocket = "/var/run/lbcore.sock"
	require.NoError(t, cfg.Validate())

	cfg.Server.ProxySocket = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"batch delay too small", func(c *Config) { c.Batching.Delay = time.Microsecond }, "batching.delay"},
		{"batch delay too large", func(c *Config) { c.Batching.Delay = 11 * time.Second }, "batching.delay"},
		{"notification channel too small", func(c *Config) { c.Channels.Notification = 1 }, "channels.notification"},
		{"config channel too large", func(c *Config) { c.Channels.ConfigUpdate = 1001 }, "channels.config_update"},
		{"monitor interval too small", func(c *Config) { c.Manager.MonitorInterval = time.Millisecond }, "manager.monitor_interval"},
		{"sampling rate negative", func(c *Config) { c.Telemetry.SamplingRate = -0.1 }, "telemetry.sampling_rate"},
		{"sampling rate too large", func(c *Config) { c.Telemetry.SamplingRate = 1.1 }, "telemetry.sampling_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestSearchPathsOrder(t *testing.T) {
	paths := SearchPaths()
	require.True(t, len(paths) >= 2)
	require.Equal(t, filepath.Join("/etc", Name, "config.yaml"), paths[0])
	require.Equal(t, "./config.yaml", paths[len(paths)-1])
}
