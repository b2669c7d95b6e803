package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPCheckerHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	spec := &CheckSpec{Kind: CheckKindTCP, Address: host, Port: uint16(port), Timeout: time.Second}
	checker, err := NewChecker(spec)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
}

func TestTCPCheckerUnreachable(t *testing.T) {
	spec := &CheckSpec{Kind: CheckKindTCP, Address: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond}
	checker, err := NewChecker(spec)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	require.NotEqual(t, StatusHealthy, result.Status)
}

func TestHTTPCheckerExpectedCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	spec := &CheckSpec{
		Kind:              CheckKindHTTP,
		Address:           host,
		Port:              uint16(port),
		Timeout:           time.Second,
		HTTPExpectedCodes: []int{http.StatusTeapot},
	}
	checker, err := NewChecker(spec)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
	require.Equal(t, http.StatusTeapot, result.ResponseCode)
}

func TestHTTPCheckerUnexpectedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	spec := &CheckSpec{
		Kind:              CheckKindHTTP,
		Address:           host,
		Port:              uint16(port),
		Timeout:           time.Second,
		HTTPExpectedCodes: []int{http.StatusOK},
	}
	checker, err := NewChecker(spec)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	require.Equal(t, StatusUnhealthy, result.Status)
}

func TestDNSCheckerEmptyExpectedSet(t *testing.T) {
	spec := &CheckSpec{Kind: CheckKindDNS, DNSQuery: "localhost", Timeout: time.Second}
	checker, err := NewChecker(spec)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
}

func TestNewCheckerUnknownKind(t *testing.T) {
	_, err := NewChecker(&CheckSpec{ID: "x", Kind: "bogus"})
	require.Error(t, err)
}
