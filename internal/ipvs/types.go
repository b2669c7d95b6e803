// Package ipvs drives the Linux IPVS (IP Virtual Server) kernel module over
// generic netlink: virtual services, their real destinations, and
// statistics. See Linux's include/uapi/linux/ip_vs.h for the wire contract
// this package implements.
package ipvs

import (
	"fmt"
	"net"
)

// Protocol identifies the transport protocol of a Service.
type Protocol uint16

// Protocol numbers as carried on the wire (IPPROTO_*).
const (
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
	ProtocolSCTP Protocol = 132
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolSCTP:
		return "SCTP"
	default:
		return fmt.Sprintf("IP(%d)", uint16(p))
	}
}

// ForwardingMethod is the packet-forwarding mode of a Destination.
type ForwardingMethod uint32

const (
	ForwardingMasq ForwardingMethod = iota
	ForwardingLocal
	ForwardingTunnel
	ForwardingRoute
	ForwardingBypass
)

func (m ForwardingMethod) String() string {
	switch m {
	case ForwardingMasq:
		return "masq"
	case ForwardingLocal:
		return "local"
	case ForwardingTunnel:
		return "tunnel"
	case ForwardingRoute:
		return "route"
	case ForwardingBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// Service-level flag bits (IP_VS_SVC_F_*).
const (
	ServiceFlagPersistent uint32 = 0x1
	ServiceFlagHashed     uint32 = 0x2
	ServiceFlagOnePacket  uint32 = 0x4
	ServiceFlagSchedFB    uint32 = 0x8
	ServiceFlagSchedPort  uint32 = 0x10
)

// ServiceStats are the read-only counters attached to a Service.
type ServiceStats struct {
	Connections uint32
	PacketsIn   uint32
	PacketsOut  uint32
	BytesIn     uint64
	BytesOut    uint64
	CPS         uint32
	PPSIn       uint32
	PPSOut      uint32
	BPSIn       uint32
	BPSOut      uint32
}

// DestinationStats are the read-only counters attached to a Destination.
type DestinationStats struct {
	ServiceStats
	ActiveConns   uint32
	InactiveConns uint32
	PersistConns  uint32
}

// Service identifies a virtual server, either by (Address, Protocol, Port)
// or by FWMark (when FWMark != 0, Address/Protocol/Port are not sent on the
// wire).
type Service struct {
	Address           net.IP
	Protocol          Protocol
	Port              uint16
	FWMark            uint32
	Scheduler         string
	Flags             uint32
	FlagsMask         uint32
	Timeout           uint32
	Netmask           uint32
	PersistenceEngine string
	Stats             ServiceStats
}

// AddressFamily returns AF_INET or AF_INET6 for the service's address.
func (s *Service) AddressFamily() uint16 {
	if s.Address.To4() != nil {
		return familyINET
	}
	return familyINET6
}

// Key uniquely identifies a Service for lookups.
type Key struct {
	Address  string
	Protocol Protocol
	Port     uint16
	FWMark   uint32
}

// Key returns the lookup key for this service.
func (s *Service) Key() Key {
	if s.FWMark != 0 {
		return Key{FWMark: s.FWMark}
	}
	return Key{Address: s.Address.String(), Protocol: s.Protocol, Port: s.Port}
}

// Destination is a real server backing a Service.
type Destination struct {
	Address          net.IP
	Port             uint16
	Weight           int32
	ForwardingMethod ForwardingMethod
	UpperThreshold   uint32
	LowerThreshold   uint32
	Stats            DestinationStats
}

// Version identifies the kernel IPVS module build.
type Version struct {
	Major, Minor, Patch uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
