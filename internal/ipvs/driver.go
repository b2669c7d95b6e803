package ipvs

import (
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// IPVS generic-netlink commands (IPVS_CMD_*, include/uapi/linux/ip_vs.h).
const (
	cmdNewService uint8 = 1
	cmdSetService uint8 = 2
	cmdDelService uint8 = 3
	cmdGetService uint8 = 4
	cmdNewDest    uint8 = 5
	cmdSetDest    uint8 = 6
	cmdDelDest    uint8 = 7
	cmdGetDest    uint8 = 8
	cmdGetInfo    uint8 = 15
	cmdZero       uint8 = 16
	cmdFlush      uint8 = 17
)

// Info reply attributes (IPVS_INFO_ATTR_*).
const (
	infoAttrVersion     = 1
	infoAttrConnTabSize = 2
)

// Handle is a session bound to the kernel's IPVS generic-netlink family. A
// Handle is not safe for concurrent use by multiple goroutines without
// external synchronization, matching the underlying netlink socket.
type Handle struct {
	sess *session
}

// New opens a netlink session against the kernel's IPVS family. It fails if
// the ip_vs kernel module is not loaded.
func New() (*Handle, error) {
	sess, err := newSession()
	if err != nil {
		return nil, err
	}
	return &Handle{sess: sess}, nil
}

// Close releases the underlying netlink socket.
func (h *Handle) Close() {
	h.sess.close()
}

// Version queries the running kernel's IPVS module version.
func (h *Handle) Version() (Version, error) {
	req := h.sess.newRequest(cmdGetInfo, unix.NLM_F_ACK)

	msgs, err := h.sess.execute(req)
	if err != nil {
		return Version{}, err
	}
	if len(msgs) == 0 {
		return Version{}, malformedErr(errEmptyReply)
	}

	hdr := deserializeGenlMsgHdr(msgs[0])
	attrs, err := nl.ParseRouteAttr(msgs[0][hdr.Len():])
	if err != nil {
		return Version{}, malformedErr(err)
	}

	native := nl.NativeEndian()
	var v Version
	for _, attr := range attrs {
		if int(attr.Attr.Type) == infoAttrVersion {
			raw := native.Uint32(attr.Value)
			v = Version{
				Major: raw >> 16 & 0xFF,
				Minor: raw >> 8 & 0xFF,
				Patch: raw & 0xFF,
			}
		}
	}

	return v, nil
}

// Flush removes every service and destination from the table.
func (h *Handle) Flush() error {
	req := h.sess.newRequest(cmdFlush, unix.NLM_F_ACK)
	_, err := h.sess.execute(req)
	return err
}

// AddService installs a new virtual service.
func (h *Handle) AddService(s *Service) error {
	return h.doService(s, cmdNewService)
}

// UpdateService overwrites the scheduler, flags, timeout or persistence
// engine of an existing service.
func (h *Handle) UpdateService(s *Service) error {
	return h.doService(s, cmdSetService)
}

// DeleteService removes a virtual service and every destination behind it.
func (h *Handle) DeleteService(s *Service) error {
	return h.doService(s, cmdDelService)
}

func (h *Handle) doService(s *Service, cmd uint8) error {
	req := h.sess.newRequest(cmd, unix.NLM_F_ACK)
	req.AddData(fillService(s))
	_, err := h.sess.execute(req)
	return err
}

// GetService looks up a single service by its Key, returning its current
// flags, timeout and statistics.
func (h *Handle) GetService(s *Service) (*Service, error) {
	req := h.sess.newRequest(cmdGetService, unix.NLM_F_ACK)
	req.AddData(fillService(s))

	msgs, err := h.sess.execute(req)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, malformedErr(errEmptyReply)
	}

	attrs, err := parseReply(msgs[0])
	if err != nil {
		return nil, err
	}

	return parseService(attrs)
}

// GetServices dumps every virtual service currently installed.
func (h *Handle) GetServices() ([]*Service, error) {
	req := h.sess.newRequest(cmdGetService, unix.NLM_F_ACK|unix.NLM_F_DUMP)
	req.AddData(nl.NewRtAttr(cmdAttrService, nil))

	msgs, err := h.sess.execute(req)
	if err != nil {
		return nil, err
	}

	services := make([]*Service, 0, len(msgs))
	for _, msg := range msgs {
		attrs, err := parseReply(msg)
		if err != nil {
			return nil, err
		}
		svc, err := parseService(attrs)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	return services, nil
}

// AddDestination attaches a real server to an existing service.
func (h *Handle) AddDestination(s *Service, d *Destination) error {
	return h.doDestination(s, d, cmdNewDest)
}

// UpdateDestination changes the weight or forwarding method of a real
// server already attached to a service.
func (h *Handle) UpdateDestination(s *Service, d *Destination) error {
	return h.doDestination(s, d, cmdSetDest)
}

// DeleteDestination detaches a real server from a service.
func (h *Handle) DeleteDestination(s *Service, d *Destination) error {
	return h.doDestination(s, d, cmdDelDest)
}

func (h *Handle) doDestination(s *Service, d *Destination, cmd uint8) error {
	req := h.sess.newRequest(cmd, unix.NLM_F_ACK)
	req.AddData(fillService(s))
	req.AddData(fillDestination(d))
	_, err := h.sess.execute(req)
	return err
}

// GetDestinations dumps every real server attached to s.
func (h *Handle) GetDestinations(s *Service) ([]*Destination, error) {
	req := h.sess.newRequest(cmdGetDest, unix.NLM_F_ACK|unix.NLM_F_DUMP)
	req.AddData(fillService(s))

	msgs, err := h.sess.execute(req)
	if err != nil {
		return nil, err
	}

	dests := make([]*Destination, 0, len(msgs))
	for _, msg := range msgs {
		attrs, err := parseReply(msg)
		if err != nil {
			return nil, err
		}
		d, err := parseDestination(attrs)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}

	return dests, nil
}

// ZeroStats resets the statistics counters of s, or of every service when s
// is nil.
func (h *Handle) ZeroStats(s *Service) error {
	req := h.sess.newRequest(cmdZero, unix.NLM_F_ACK)
	if s != nil {
		req.AddData(fillService(s))
	}
	_, err := h.sess.execute(req)
	return err
}

// errKernel reports whether err is a kernel-rejected IPVS error carrying the
// given errno (e.g. unix.EEXIST on a duplicate AddService).
func errKernel(err error, errno unix.Errno) bool {
	var ie *Error
	if e, ok := err.(*Error); ok {
		ie = e
	}
	if ie == nil || ie.Kind != ErrorKindKernel {
		return false
	}
	return ie.Errno == -int32(errno)
}

// IsExist reports whether err indicates the service or destination already
// exists.
func IsExist(err error) bool {
	return errKernel(err, unix.EEXIST)
}

// IsNotExist reports whether err indicates the service or destination was
// not found.
func IsNotExist(err error) bool {
	return errKernel(err, unix.ENOENT) || errKernel(err, unix.ESRCH)
}
