package vrrp

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// addrPlumber installs and withdraws a VRID's virtual addresses on a single
// interface. IP plumbing is deliberately kept separate from the state
// machine: Node only decides when an address set should be present, this
// type is the thin OS helper that makes it so.
type addrPlumber struct {
	iface string
}

func newAddrPlumber(iface string) *addrPlumber {
	return &addrPlumber{iface: iface}
}

// add installs every ip on the interface. An address that already exists is
// not an error.
func (p *addrPlumber) add(ips []net.IP) error {
	link, err := netlink.LinkByName(p.iface)
	if err != nil {
		return fmt.Errorf("resolve interface %q: %w", p.iface, err)
	}

	for _, ip := range ips {
		addr := &netlink.Addr{IPNet: hostCIDR(ip)}
		if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("add address %s to %s: %w", ip, p.iface, err)
		}
	}
	return nil
}

// remove withdraws every ip from the interface. An address that is already
// absent is not an error.
func (p *addrPlumber) remove(ips []net.IP) error {
	link, err := netlink.LinkByName(p.iface)
	if err != nil {
		return fmt.Errorf("resolve interface %q: %w", p.iface, err)
	}

	for _, ip := range ips {
		addr := &netlink.Addr{IPNet: hostCIDR(ip)}
		if err := netlink.AddrDel(link, addr); err != nil && !errors.Is(err, unix.ESRCH) && !errors.Is(err, unix.EADDRNOTAVAIL) {
			return fmt.Errorf("remove address %s from %s: %w", ip, p.iface, err)
		}
	}
	return nil
}

// hostCIDR wraps ip as a host route (/32 for IPv4, /128 for IPv6), the mask
// netlink.AddrAdd/AddrDel expect for a single address.
func hostCIDR(ip net.IP) *net.IPNet {
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip.To16(), Mask: net.CIDRMask(128, 128)}
}
