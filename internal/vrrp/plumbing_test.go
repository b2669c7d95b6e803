package vrrp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrPlumberAddRemoveIsIdempotent(t *testing.T) {
	requireRawSockets(t)

	p := newAddrPlumber("lo")
	ips := []net.IP{net.ParseIP("127.0.0.3")}

	require.NoError(t, p.add(ips))
	require.NoError(t, p.add(ips)) // already present: not an error

	require.NoError(t, p.remove(ips))
	require.NoError(t, p.remove(ips)) // already absent: not an error
}

func TestAddrPlumberUnknownInterface(t *testing.T) {
	p := newAddrPlumber("lbcore-test-nonexistent0")
	err := p.add([]net.IP{net.ParseIP("10.0.0.1")})
	require.Error(t, err)
}

func TestHostCIDR(t *testing.T) {
	v4 := hostCIDR(net.ParseIP("10.0.0.1"))
	require.Equal(t, 32, maskBits(v4))

	v6 := hostCIDR(net.ParseIP("fe80::1"))
	require.Equal(t, 128, maskBits(v6))
}

func maskBits(n *net.IPNet) int {
	ones, _ := n.Mask.Size()
	return ones
}
