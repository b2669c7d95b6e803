package ipvs

import (
	"fmt"
	"sync/atomic"

	"github.com/vishvananda/netlink/nl"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Generic-netlink control family constants (linux/genetlink.h).
const (
	genlIDCtrl           = 0x10
	genlCtrlCmdGetFamily = 3
	genlCtrlAttrFamilyID = 1
	genlCtrlAttrFamily   = 2

	ipvsFamilyName = "IPVS"

	familyINET  = unix.AF_INET
	familyINET6 = unix.AF_INET6
)

// genlMsgHdr is the 4-byte header prefixing every generic-netlink payload.
type genlMsgHdr struct {
	cmd      uint8
	version  uint8
	reserved uint16
}

func (h *genlMsgHdr) serialize() []byte {
	native := nl.NativeEndian()
	b := make([]byte, 4)
	b[0] = h.cmd
	b[1] = h.version
	native.PutUint16(b[2:4], h.reserved)
	return b
}

func (h *genlMsgHdr) Serialize() []byte { return h.serialize() }
func (h *genlMsgHdr) Len() int          { return 4 }

func deserializeGenlMsgHdr(b []byte) genlMsgHdr {
	return genlMsgHdr{cmd: b[0], version: b[1]}
}

// session owns the single generic-netlink socket used to talk to the
// kernel's IPVS family.
type session struct {
	sock    *nl.NetlinkSocket
	ipvsFam int
	seq     uint32
}

func newSession() (*session, error) {
	sock, err := nl.GetNetlinkSocketAt(netns.None(), netns.None(), unix.NETLINK_GENERIC)
	if err != nil {
		return nil, transportErr(fmt.Errorf("open generic netlink socket: %w", err))
	}

	s := &session{sock: sock}

	fam, err := s.resolveFamily(ipvsFamilyName)
	if err != nil {
		sock.Close()
		return nil, err
	}
	s.ipvsFam = fam

	return s, nil
}

func (s *session) close() {
	s.sock.Close()
}

func (s *session) nextSeq() uint32 {
	return atomic.AddUint32(&s.seq, 1)
}

// resolveFamily asks CTRL_CMD_GETFAMILY for the numeric family id of name.
func (s *session) resolveFamily(name string) (int, error) {
	req := nl.NewNetlinkRequest(genlIDCtrl, unix.NLM_F_ACK)
	req.Seq = s.nextSeq()
	req.AddData(&genlMsgHdr{cmd: genlCtrlCmdGetFamily, version: 1})
	req.AddData(nl.NewRtAttr(genlCtrlAttrFamily, nl.ZeroTerminated(name)))

	msgs, err := s.execute(req)
	if err != nil {
		return 0, err
	}

	native := nl.NativeEndian()
	for _, m := range msgs {
		if len(m) < 4 {
			continue
		}
		attrs, err := nl.ParseRouteAttr(m[4:])
		if err != nil {
			return 0, malformedErr(err)
		}
		for _, attr := range attrs {
			if int(attr.Attr.Type) == genlCtrlAttrFamilyID {
				return int(native.Uint16(attr.Value[0:2])), nil
			}
		}
	}

	return 0, malformedErr(fmt.Errorf("no family id attribute in CTRL_CMD_GETFAMILY reply for %q", name))
}

// newRequest builds a generic-netlink request for the IPVS family using cmd.
func (s *session) newRequest(cmd uint8, flags int) *nl.NetlinkRequest {
	req := nl.NewNetlinkRequest(s.ipvsFam, flags)
	req.Seq = s.nextSeq()
	req.AddData(&genlMsgHdr{cmd: cmd, version: 1})
	return req
}

// execute sends req and collects every reply frame until NLMSG_DONE, an
// error frame, or a final non-multipart message — the same loop the kernel's
// dump protocol requires for both single-reply and multi-part (NLM_F_DUMP)
// exchanges.
func (s *session) execute(req *nl.NetlinkRequest) ([][]byte, error) {
	if err := s.sock.Send(req); err != nil {
		return nil, transportErr(err)
	}

	pid, err := s.sock.GetPid()
	if err != nil {
		return nil, transportErr(err)
	}

	native := nl.NativeEndian()
	var out [][]byte

done:
	for {
		msgs, err := s.sock.Receive()
		if err != nil {
			return nil, transportErr(err)
		}

		for _, m := range msgs {
			if m.Header.Seq != req.Seq {
				continue
			}
			if m.Header.Pid != pid {
				return nil, transportErr(fmt.Errorf("unexpected pid %d, expected %d", m.Header.Pid, pid))
			}
			if m.Header.Type == unix.NLMSG_DONE {
				break done
			}
			if m.Header.Type == unix.NLMSG_ERROR {
				errno := int32(native.Uint32(m.Data[0:4]))
				if errno == 0 {
					break done
				}
				return nil, kernelErr(errno)
			}

			out = append(out, m.Data)
			if m.Header.Flags&unix.NLM_F_MULTI == 0 {
				break done
			}
		}
	}

	return out, nil
}
