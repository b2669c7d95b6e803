package vrrp

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// maxPacketSize bounds a single VRRP advertisement read (header plus the
// largest practical address list).
const maxPacketSize = 4096

// socket is a raw IP(112) socket joined to the VRRP multicast group on one
// interface, abstracting over the IPv4/IPv6 control-message APIs.
type socket struct {
	conn   net.PacketConn
	iface  *net.Interface
	v4     *ipv4.PacketConn
	v6     *ipv6.PacketConn
	isIPv6 bool
	group  net.Addr
}

// newSocket opens a raw IP socket, joins the VRRP multicast group for the
// given family on ifaceName, and forces outgoing TTL/hop-limit to 255 with
// multicast loopback disabled, per RFC 5798 §5.1. The socket itself is not
// bound to the interface; only the group membership is tied to it.
func newSocket(ifaceName string, ipv6Family bool) (*socket, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %q: %w", ifaceName, err)
	}

	network := "ip4:112"
	if ipv6Family {
		network = "ip6:112"
	}

	conn, err := net.ListenPacket(network, "")
	if err != nil {
		return nil, fmt.Errorf("open raw socket: %w", err)
	}

	s := &socket{conn: conn, iface: iface, isIPv6: ipv6Family}

	if ipv6Family {
		s.v6 = ipv6.NewPacketConn(conn)
		s.group = &net.IPAddr{IP: MulticastGroupIPv6, Zone: ifaceName}
		if err := s.v6.JoinGroup(iface, s.group); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group: %w", err)
		}
		if err := s.v6.SetMulticastHopLimit(255); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast hop limit: %w", err)
		}
		if err := s.v6.SetMulticastLoopback(false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("disable multicast loopback: %w", err)
		}
		if err := s.v6.SetHopLimit(255); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set unicast hop limit: %w", err)
		}
	} else {
		s.v4 = ipv4.NewPacketConn(conn)
		s.group = &net.IPAddr{IP: MulticastGroupIPv4}
		if err := s.v4.JoinGroup(iface, s.group); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group: %w", err)
		}
		if err := s.v4.SetMulticastTTL(255); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast ttl: %w", err)
		}
		if err := s.v4.SetMulticastLoopback(false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("disable multicast loopback: %w", err)
		}
		if err := s.v4.SetTTL(255); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set unicast ttl: %w", err)
		}
	}

	return s, nil
}

// sendMulticast writes b to the VRRP multicast group.
func (s *socket) sendMulticast(b []byte) error {
	_, err := s.conn.WriteTo(b, s.group)
	return err
}

// recv reads one datagram, returning the payload and the source address's
// IP (for checksum verification and master-tie-break comparisons) along
// with the TTL/hop-limit it arrived with.
func (s *socket) recv(buf []byte) (n int, src net.IP, ttl int, err error) {
	if s.isIPv6 {
		var cm *ipv6.ControlMessage
		n, cm, addr, rerr := s.v6.ReadFrom(buf)
		if rerr != nil {
			return 0, nil, 0, rerr
		}
		hop := 0
		if cm != nil {
			hop = cm.HopLimit
		}
		return n, addrIP(addr), hop, nil
	}

	var cm *ipv4.ControlMessage
	n, cm, addr, rerr := s.v4.ReadFrom(buf)
	if rerr != nil {
		return 0, nil, 0, rerr
	}
	ttlVal := 0
	if cm != nil {
		ttlVal = cm.TTL
	}
	return n, addrIP(addr), ttlVal, nil
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}

// enableControlMessages asks the kernel to attach per-packet TTL/hop-limit
// to each read, so recv can validate RFC 5798's TTL==255 requirement.
func (s *socket) enableControlMessages() error {
	if s.isIPv6 {
		return s.v6.SetControlMessage(ipv6.FlagHopLimit, true)
	}
	return s.v4.SetControlMessage(ipv4.FlagTTL, true)
}

// close leaves the multicast group and closes the socket.
func (s *socket) close() {
	if s.isIPv6 {
		_ = s.v6.LeaveGroup(s.iface, s.group)
	} else {
		_ = s.v4.LeaveGroup(s.iface, s.group)
	}
	_ = s.conn.Close()
}
