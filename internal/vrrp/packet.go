package vrrp

import (
	"encoding/binary"
	"net"
)

// headerLen is the fixed 8-byte VRRPv3 header preceding the address slots.
const headerLen = 8

// Packet is a parsed VRRPv3 advertisement.
type Packet struct {
	Version       uint8
	Type          uint8
	VRID          uint8
	Priority      uint8
	MaxAdvertInt  uint16 // centiseconds, 12 bits significant
	Checksum      uint16
	Addresses     []net.IP
}

// addrLen returns the address slot size for ip: 4 for IPv4, 16 for IPv6.
func addrLen(ip net.IP) int {
	if ip.To4() != nil {
		return 4
	}
	return 16
}

// Serialize encodes p into its wire form with a freshly computed checksum
// for the given IP pseudo-header endpoints.
func (p *Packet) Serialize(src, dst net.IP) []byte {
	slot := 4
	if len(p.Addresses) > 0 {
		slot = addrLen(p.Addresses[0])
	} else if src.To4() == nil {
		slot = 16
	}

	b := make([]byte, headerLen+slot*len(p.Addresses))
	b[0] = (p.Version << 4) | (p.Type & 0xF)
	b[1] = p.VRID
	b[2] = p.Priority
	b[3] = uint8(len(p.Addresses))
	binary.BigEndian.PutUint16(b[4:6], p.MaxAdvertInt&0x0FFF)
	// checksum field b[6:8] stays zero while computing.

	off := headerLen
	for _, addr := range p.Addresses {
		if slot == 4 {
			copy(b[off:off+4], addr.To4())
		} else {
			copy(b[off:off+16], addr.To16())
		}
		off += slot
	}

	sum := checksum(b, src, dst)
	binary.BigEndian.PutUint16(b[6:8], sum)

	return b
}

// Parse decodes a wire-format VRRPv3 advertisement. It does not validate the
// checksum; call VerifyChecksum separately against the packet's IP endpoints.
func Parse(b []byte) (*Packet, error) {
	if len(b) < headerLen {
		return nil, &ValidationError{Msg: "packet shorter than VRRP header"}
	}

	p := &Packet{
		Version:      b[0] >> 4,
		Type:         b[0] & 0xF,
		VRID:         b[1],
		Priority:     b[2],
		MaxAdvertInt: binary.BigEndian.Uint16(b[4:6]) & 0x0FFF,
		Checksum:     binary.BigEndian.Uint16(b[6:8]),
	}

	count := int(b[3])
	rest := b[headerLen:]

	var slot int
	switch {
	case len(rest) == count*4:
		slot = 4
	case len(rest) == count*16:
		slot = 16
	default:
		return nil, &ValidationError{Msg: "address block length matches neither IPv4 nor IPv6 layout"}
	}

	p.Addresses = make([]net.IP, 0, count)
	for i := 0; i < count; i++ {
		raw := rest[i*slot : (i+1)*slot]
		ip := make(net.IP, slot)
		copy(ip, raw)
		p.Addresses = append(p.Addresses, ip)
	}

	return p, nil
}

// VerifyChecksum recomputes the checksum of b against the given IP endpoints
// and reports whether it matches the checksum carried in the packet.
func VerifyChecksum(b []byte, src, dst net.IP) bool {
	if len(b) < headerLen {
		return false
	}

	want := binary.BigEndian.Uint16(b[6:8])

	scratch := make([]byte, len(b))
	copy(scratch, b)
	scratch[6], scratch[7] = 0, 0

	return checksum(scratch, src, dst) == want
}

// checksum computes the RFC 1071 one's-complement sum of b (with its
// checksum field already zeroed by the caller) plus the IPv4/IPv6 pseudo
// header for (src, dst).
func checksum(b []byte, src, dst net.IP) uint16 {
	var sum uint32

	addWords := func(data []byte) {
		n := len(data)
		for i := 0; i+1 < n; i += 2 {
			sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
		}
		if n%2 == 1 {
			sum += uint32(data[n-1]) << 8
		}
	}

	addWords(pseudoHeader(src, dst, len(b)))
	addWords(b)

	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// pseudoHeader builds the IP pseudo-header VRRP's checksum is computed over.
func pseudoHeader(src, dst net.IP, vrrpLen int) []byte {
	if v4 := src.To4(); v4 != nil {
		h := make([]byte, 12)
		copy(h[0:4], v4)
		copy(h[4:8], dst.To4())
		binary.BigEndian.PutUint16(h[10:12], uint16(vrrpLen))
		h[8] = 0
		h[9] = IPProtocolVRRP
		return h
	}

	h := make([]byte, 40)
	copy(h[0:16], src.To16())
	copy(h[16:32], dst.To16())
	binary.BigEndian.PutUint32(h[32:36], uint32(vrrpLen))
	h[39] = IPProtocolVRRP
	return h
}
