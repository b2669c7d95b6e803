package ipvs

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Exercising the real driver requires NET_ADMIN and the ip_vs kernel module
// loaded, so these tests only run when explicitly enabled.
func requireKernelIPVS(t *testing.T) *Handle {
	t.Helper()
	if os.Getenv("LBCORE_IPVS_TEST_ENABLED") != "1" {
		t.Skip("set LBCORE_IPVS_TEST_ENABLED=1 to run tests against the kernel IPVS module")
	}

	h, err := New()
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestHandleVersion(t *testing.T) {
	h := requireKernelIPVS(t)

	v, err := h.Version()
	require.NoError(t, err)
	require.NotZero(t, v.Major)
}

func TestHandleServiceLifecycle(t *testing.T) {
	h := requireKernelIPVS(t)

	svc := &Service{
		Address:   net.ParseIP("198.51.100.10"),
		Protocol:  ProtocolTCP,
		Port:      8080,
		Scheduler: "rr",
		Timeout:   0,
	}

	require.NoError(t, h.AddService(svc))
	t.Cleanup(func() { _ = h.DeleteService(svc) })

	got, err := h.GetService(svc)
	require.NoError(t, err)
	require.Equal(t, svc.Port, got.Port)
	require.Equal(t, "rr", got.Scheduler)

	svc.Scheduler = "wrr"
	require.NoError(t, h.UpdateService(svc))

	updated, err := h.GetService(svc)
	require.NoError(t, err)
	require.Equal(t, "wrr", updated.Scheduler)

	dest := &Destination{
		Address:          net.ParseIP("203.0.113.5"),
		Port:             8080,
		Weight:           10,
		ForwardingMethod: ForwardingMasq,
	}
	require.NoError(t, h.AddDestination(svc, dest))

	dests, err := h.GetDestinations(svc)
	require.NoError(t, err)
	require.Len(t, dests, 1)
	require.Equal(t, int32(10), dests[0].Weight)

	require.NoError(t, h.DeleteDestination(svc, dest))
	require.NoError(t, h.DeleteService(svc))
}

func TestHandleGetServices(t *testing.T) {
	h := requireKernelIPVS(t)

	require.NoError(t, h.Flush())

	svc := &Service{
		Address:   net.ParseIP("198.51.100.20"),
		Protocol:  ProtocolUDP,
		Port:      53,
		Scheduler: "rr",
	}
	require.NoError(t, h.AddService(svc))
	t.Cleanup(func() { _ = h.DeleteService(svc) })

	services, err := h.GetServices()
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Equal(t, ProtocolUDP, services[0].Protocol)
}

func TestIsExistIsNotExist(t *testing.T) {
	require.False(t, IsExist(nil))
	require.False(t, IsNotExist(nil))

	notFound := kernelErr(-2) // -ENOENT
	require.True(t, IsNotExist(notFound))

	exists := kernelErr(-17) // -EEXIST
	require.True(t, IsExist(exists))
}
