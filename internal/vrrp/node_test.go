package vrrp

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireRawSockets(t *testing.T) {
	t.Helper()
	if os.Getenv("LBCORE_VRRP_TEST_ENABLED") != "1" {
		t.Skip("set LBCORE_VRRP_TEST_ENABLED=1 to run tests against real raw sockets")
	}
}

func TestConfigTimers(t *testing.T) {
	cfg := Config{AdvertInterval: 100, Priority: 100}
	require.Equal(t, 1000*time.Millisecond, cfg.AdvertisementIntervalDuration())
	// Master_Down_Interval ~= 3*1000 + ((256-100)*1000)/256 ~= 3609ms
	require.InDelta(t, 3609, cfg.MasterDownInterval().Milliseconds(), 5)
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		VRID:             1,
		Interface:        "lo",
		Priority:         100,
		AdvertInterval:   100,
		VirtualAddresses: []net.IP{net.ParseIP("10.0.0.1")},
	}
	require.NoError(t, base.validate())

	noVRID := base
	noVRID.VRID = 0
	require.Error(t, noVRID.validate())

	noAddrs := base
	noAddrs.VirtualAddresses = nil
	require.Error(t, noAddrs.validate())
}

func TestNodePriority255BecomesMasterImmediately(t *testing.T) {
	requireRawSockets(t)

	n, err := New(Config{
		VRID:             1,
		Interface:        "lo",
		PrimaryAddress:   net.ParseIP("127.0.0.1"),
		VirtualAddresses: []net.IP{net.ParseIP("127.0.0.2")},
		Priority:         255,
		AdvertInterval:   100,
		Preempt:          true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateMaster, n.State())

	<-done
}
