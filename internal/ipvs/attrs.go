package ipvs

import (
	"encoding/binary"
	"net"
	"syscall"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// Top-level command attributes (IPVS_CMD_ATTR_*).
const (
	cmdAttrService = 1
	cmdAttrDest    = 2
)

// Service attributes, nested under cmdAttrService (IPVS_SVC_ATTR_*).
const (
	svcAttrAddressFamily = 1
	svcAttrProtocol      = 2
	svcAttrAddress       = 3
	svcAttrPort          = 4
	svcAttrFWMark        = 5
	svcAttrSchedName     = 6
	svcAttrFlags         = 7
	svcAttrTimeout       = 8
	svcAttrNetmask       = 9
	svcAttrStats         = 10
	svcAttrPEName        = 11
	svcAttrAddressV6     = 12
)

// Destination attributes, nested under cmdAttrDest (IPVS_DEST_ATTR_*).
const (
	destAttrAddress          = 1
	destAttrPort             = 2
	destAttrForwardingMethod = 3
	destAttrWeight           = 4
	destAttrUpperThreshold   = 5
	destAttrLowerThreshold   = 6
	destAttrActiveConns      = 7
	destAttrInactiveConns    = 8
	destAttrPersistConns     = 9
	destAttrStats            = 10
	destAttrAddressV6        = 11
)

// Stats attributes, nested under svcAttrStats / destAttrStats.
const (
	statsAttrConns     = 1
	statsAttrPktsIn    = 2
	statsAttrPktsOut   = 3
	statsAttrBytesIn   = 4
	statsAttrBytesOut  = 5
	statsAttrCPS       = 6
	statsAttrPPSIn     = 7
	statsAttrPPSOut    = 8
	statsAttrBPSIn     = 9
	statsAttrBPSOut    = 10
)

// ipvsFlags is the wire representation of a service's flag word: the active
// flags plus a mask of which bits the request is allowed to change.
type ipvsFlags struct {
	flags uint32
	mask  uint32
}

func (f *ipvsFlags) Serialize() []byte {
	native := nl.NativeEndian()
	b := make([]byte, 8)
	native.PutUint32(b[0:4], f.flags)
	native.PutUint32(b[4:8], f.mask)
	return b
}

func (f *ipvsFlags) Len() int { return 8 }

func rawIP(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func bePort(port uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, port)
	return b
}

// fillService encodes a Service as the nested cmdAttrService attribute.
func fillService(s *Service) *nl.RtAttr {
	attr := nl.NewRtAttr(cmdAttrService, nil)

	nl.NewRtAttrChild(attr, svcAttrAddressFamily, nl.Uint16Attr(s.AddressFamily()))

	if s.FWMark != 0 {
		nl.NewRtAttrChild(attr, svcAttrFWMark, nl.Uint32Attr(s.FWMark))
	} else {
		nl.NewRtAttrChild(attr, svcAttrProtocol, nl.Uint16Attr(uint16(s.Protocol)))
		nl.NewRtAttrChild(attr, svcAttrAddress, rawIP(s.Address))
		nl.NewRtAttrChild(attr, svcAttrPort, bePort(s.Port))
	}

	nl.NewRtAttrChild(attr, svcAttrSchedName, nl.ZeroTerminated(s.Scheduler))
	if s.PersistenceEngine != "" {
		nl.NewRtAttrChild(attr, svcAttrPEName, nl.ZeroTerminated(s.PersistenceEngine))
	}

	mask := s.FlagsMask
	if mask == 0 {
		mask = 0xFFFFFFFF
	}
	flags := &ipvsFlags{flags: s.Flags, mask: mask}
	nl.NewRtAttrChild(attr, svcAttrFlags, flags.Serialize())

	nl.NewRtAttrChild(attr, svcAttrTimeout, nl.Uint32Attr(s.Timeout))
	nl.NewRtAttrChild(attr, svcAttrNetmask, nl.Uint32Attr(s.Netmask))

	return attr
}

// fillDestination encodes a Destination as the nested cmdAttrDest attribute.
func fillDestination(d *Destination) *nl.RtAttr {
	attr := nl.NewRtAttr(cmdAttrDest, nil)

	nl.NewRtAttrChild(attr, destAttrAddress, rawIP(d.Address))
	nl.NewRtAttrChild(attr, destAttrPort, bePort(d.Port))
	nl.NewRtAttrChild(attr, destAttrForwardingMethod, nl.Uint32Attr(uint32(d.ForwardingMethod)))
	nl.NewRtAttrChild(attr, destAttrWeight, nl.Uint32Attr(uint32(d.Weight)))
	nl.NewRtAttrChild(attr, destAttrUpperThreshold, nl.Uint32Attr(d.UpperThreshold))
	nl.NewRtAttrChild(attr, destAttrLowerThreshold, nl.Uint32Attr(d.LowerThreshold))

	return attr
}

func parseIP(b []byte, family uint16) net.IP {
	switch family {
	case unix.AF_INET:
		ip := make(net.IP, 4)
		copy(ip, b[:4])
		return ip
	case unix.AF_INET6:
		ip := make(net.IP, 16)
		copy(ip, b[:16])
		return ip
	default:
		return nil
	}
}

func parseStats(b []byte) (ServiceStats, error) {
	var s ServiceStats

	attrs, err := nl.ParseRouteAttr(b)
	if err != nil {
		return s, err
	}

	native := nl.NativeEndian()
	for _, attr := range attrs {
		switch int(attr.Attr.Type) {
		case statsAttrConns:
			s.Connections = native.Uint32(attr.Value)
		case statsAttrPktsIn:
			s.PacketsIn = native.Uint32(attr.Value)
		case statsAttrPktsOut:
			s.PacketsOut = native.Uint32(attr.Value)
		case statsAttrBytesIn:
			s.BytesIn = native.Uint64(attr.Value)
		case statsAttrBytesOut:
			s.BytesOut = native.Uint64(attr.Value)
		case statsAttrCPS:
			s.CPS = native.Uint32(attr.Value)
		case statsAttrPPSIn:
			s.PPSIn = native.Uint32(attr.Value)
		case statsAttrPPSOut:
			s.PPSOut = native.Uint32(attr.Value)
		case statsAttrBPSIn:
			s.BPSIn = native.Uint32(attr.Value)
		case statsAttrBPSOut:
			s.BPSOut = native.Uint32(attr.Value)
		}
	}

	return s, nil
}

// parseService reassembles a Service from the IPVS attributes nested under
// a single cmdAttrService block.
func parseService(attrs []syscall.NetlinkRouteAttr) (*Service, error) {
	var s Service
	native := nl.NativeEndian()
	var family uint16

	for _, attr := range attrs {
		switch int(attr.Attr.Type) {
		case svcAttrAddressFamily:
			family = native.Uint16(attr.Value)
		case svcAttrProtocol:
			s.Protocol = Protocol(native.Uint16(attr.Value))
		case svcAttrAddress:
			s.Address = parseIP(attr.Value, family)
		case svcAttrPort:
			s.Port = binary.BigEndian.Uint16(attr.Value)
		case svcAttrFWMark:
			s.FWMark = native.Uint32(attr.Value)
		case svcAttrSchedName:
			s.Scheduler = nl.BytesToString(attr.Value)
		case svcAttrFlags:
			if len(attr.Value) >= 4 {
				s.Flags = native.Uint32(attr.Value[0:4])
			}
		case svcAttrTimeout:
			s.Timeout = native.Uint32(attr.Value)
		case svcAttrNetmask:
			s.Netmask = native.Uint32(attr.Value)
		case svcAttrPEName:
			s.PersistenceEngine = nl.BytesToString(attr.Value)
		case svcAttrStats:
			stats, err := parseStats(attr.Value)
			if err != nil {
				return nil, err
			}
			s.Stats = stats
		}
	}

	return &s, nil
}

// parseDestination reassembles a Destination from the IPVS attributes
// nested under a single cmdAttrDest block.
func parseDestination(attrs []syscall.NetlinkRouteAttr) (*Destination, error) {
	var d Destination
	native := nl.NativeEndian()
	family := uint16(unix.AF_INET)

	for _, attr := range attrs {
		switch int(attr.Attr.Type) {
		case destAttrAddress:
			d.Address = parseIP(attr.Value, family)
		case destAttrPort:
			d.Port = binary.BigEndian.Uint16(attr.Value)
		case destAttrForwardingMethod:
			d.ForwardingMethod = ForwardingMethod(native.Uint32(attr.Value))
		case destAttrWeight:
			d.Weight = int32(native.Uint32(attr.Value))
		case destAttrUpperThreshold:
			d.UpperThreshold = native.Uint32(attr.Value)
		case destAttrLowerThreshold:
			d.LowerThreshold = native.Uint32(attr.Value)
		case destAttrActiveConns:
			d.Stats.ActiveConns = native.Uint32(attr.Value)
		case destAttrInactiveConns:
			d.Stats.InactiveConns = native.Uint32(attr.Value)
		case destAttrPersistConns:
			d.Stats.PersistConns = native.Uint32(attr.Value)
		case destAttrStats:
			stats, err := parseStats(attr.Value)
			if err != nil {
				return nil, err
			}
			d.Stats.ServiceStats = stats
		}
	}

	return &d, nil
}

// parseReply strips the generic-netlink header from msg and parses the
// top-level attribute (either cmdAttrService or cmdAttrDest), returning its
// nested attribute list.
func parseReply(msg []byte) ([]syscall.NetlinkRouteAttr, error) {
	if len(msg) < 4 {
		return nil, malformedErr(errShortReply)
	}
	hdr := deserializeGenlMsgHdr(msg)

	top, err := nl.ParseRouteAttr(msg[hdr.Len():])
	if err != nil {
		return nil, malformedErr(err)
	}
	if len(top) == 0 {
		return nil, malformedErr(errEmptyReply)
	}

	nested, err := nl.ParseRouteAttr(top[0].Value)
	if err != nil {
		return nil, malformedErr(err)
	}

	return nested, nil
}
