package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadServices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  - address: 10.0.0.1
    protocol: tcp
    port: 443
    scheduler: wrr
    destinations:
      - address: 10.0.1.1
        port: 8443
        weight: 10
        forwarder: masq
virtual_routers:
  - vrid: 1
    interface: eth0
    primary_address: 10.0.0.2
    virtual_addresses: [10.0.0.1]
    priority: 100
    advert_interval: 100
    preempt: true
`), 0o644))

	cfg, err := LoadServices(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	require.Equal(t, "wrr", cfg.Services[0].Scheduler)
	require.Len(t, cfg.Services[0].Destinations, 1)
	require.Len(t, cfg.VirtualRouters, 1)
	require.Equal(t, uint8(1), cfg.VirtualRouters[0].VRID)
}

func TestLoadServicesMissingFileIsError(t *testing.T) {
	_, err := LoadServices(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseIPRejectsInvalid(t *testing.T) {
	_, err := ParseIP("destinations[0].address", "not-an-ip")
	require.Error(t, err)

	ip, err := ParseIP("destinations[0].address", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", ip.String())
}
