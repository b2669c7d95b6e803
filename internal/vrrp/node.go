package vrrp

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Option configures a Node.
type Option func(*options)

// WithLog configures the node with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// Node runs the VRRPv3 state machine for a single Config.
type Node struct {
	cfg Config
	log *zap.SugaredLogger

	sock   *socket
	isIPv6 bool
	addrs  *addrPlumber

	mu    sync.Mutex
	state State
	stats Stats
}

// New validates cfg and constructs a Node. It does not open the socket or
// start the state machine; call Run for that.
func New(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Node{
		cfg:    cfg,
		log:    o.Log,
		isIPv6: cfg.PrimaryAddress.To4() == nil,
		addrs:  newAddrPlumber(cfg.Interface),
		state:  StateInit,
	}, nil
}

// State returns the node's current state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// setState records a state transition and, crossing into or out of Master,
// installs or withdraws the virtual addresses on cfg.Interface. The netlink
// calls run outside n.mu: they can block on the kernel and must not stall
// State()/Stats() readers.
func (n *Node) setState(s State) {
	n.mu.Lock()
	prev := n.state
	n.state = s
	switch s {
	case StateMaster:
		if prev != StateMaster {
			n.stats.MasterTransitions++
		}
	case StateBackup:
		if prev != StateBackup {
			n.stats.BackupTransitions++
		}
	}
	n.mu.Unlock()

	if prev == s {
		return
	}
	n.log.Infow("vrrp state transition", "vrid", n.cfg.VRID, "from", prev, "to", s)

	if s == StateMaster {
		if err := n.addrs.add(n.cfg.VirtualAddresses); err != nil {
			n.log.Warnw("failed to install virtual addresses", "vrid", n.cfg.VRID, "error", err)
		}
	} else if prev == StateMaster {
		if err := n.addrs.remove(n.cfg.VirtualAddresses); err != nil {
			n.log.Warnw("failed to withdraw virtual addresses", "vrid", n.cfg.VRID, "error", err)
		}
	}
}

// Run opens the VRRP socket and runs the state machine until ctx is
// canceled. On return it performs the RFC 5798 shutdown sequence: if
// currently Master, it sends one priority-0 advertisement before leaving the
// group and closing the socket.
func (n *Node) Run(ctx context.Context) error {
	sock, err := newSocket(n.cfg.Interface, n.isIPv6)
	if err != nil {
		return err
	}
	n.sock = sock
	defer n.sock.close()

	if err := n.sock.enableControlMessages(); err != nil {
		n.log.Warnw("failed to enable control messages", "vrid", n.cfg.VRID, "error", err)
	}

	recvCh := make(chan recvResult, 8)
	go n.recvLoop(ctx, recvCh)

	if n.cfg.Priority == 255 {
		n.setState(StateMaster)
		if err := n.sendAdvertisement(n.cfg.Priority); err == nil {
			n.mu.Lock()
			n.stats.AdvertsSent++
			n.mu.Unlock()
		}
	} else {
		n.setState(StateBackup)
	}

	ticker := time.NewTicker(n.cfg.AdvertisementIntervalDuration())
	defer ticker.Stop()

	downTimer := time.NewTimer(n.cfg.MasterDownInterval())
	defer downTimer.Stop()
	if n.State() == StateMaster {
		if !downTimer.Stop() {
			<-downTimer.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return ctx.Err()

		case <-ticker.C:
			if n.State() == StateMaster {
				if err := n.sendAdvertisement(n.cfg.Priority); err != nil {
					n.log.Warnw("failed to send advertisement", "vrid", n.cfg.VRID, "error", err)
				} else {
					n.mu.Lock()
					n.stats.AdvertsSent++
					n.mu.Unlock()
				}
			}

		case <-downTimer.C:
			if n.State() == StateBackup {
				n.setState(StateMaster)
				if err := n.sendAdvertisement(n.cfg.Priority); err != nil {
					n.log.Warnw("failed to send advertisement", "vrid", n.cfg.VRID, "error", err)
				} else {
					n.mu.Lock()
					n.stats.AdvertsSent++
					n.mu.Unlock()
				}
			}

		case res := <-recvCh:
			if res.err != nil {
				n.log.Warnw("vrrp receive error", "vrid", n.cfg.VRID, "error", res.err)
				continue
			}
			n.handleAdvertisement(res, downTimer)
		}
	}
}

type recvResult struct {
	pkt *Packet
	raw []byte
	src net.IP
	ttl int
	err error
}

// recvLoop reads datagrams until ctx is canceled, parsing and pushing every
// one (malformed or not) onto ch for the state machine to account for.
func (n *Node) recvLoop(ctx context.Context, ch chan<- recvResult) {
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nr, src, ttl, err := n.sock.recv(buf)
		if err != nil {
			select {
			case ch <- recvResult{err: err}:
			case <-ctx.Done():
			}
			continue
		}

		raw := make([]byte, nr)
		copy(raw, buf[:nr])

		pkt, perr := Parse(raw)
		res := recvResult{src: src, ttl: ttl, raw: raw}
		if perr != nil {
			res.err = perr
		} else {
			res.pkt = pkt
		}

		select {
		case ch <- res:
		case <-ctx.Done():
			return
		}
	}
}

// handleAdvertisement applies the Backup/Master reception rules of RFC 5798
// §6.2 against one received datagram.
func (n *Node) handleAdvertisement(res recvResult, downTimer *time.Timer) {
	if res.pkt == nil {
		n.mu.Lock()
		n.stats.InvalidAdverts++
		n.mu.Unlock()
		return
	}
	pkt := res.pkt

	if pkt.Version != Version || pkt.Type != AdvertisementType {
		n.mu.Lock()
		n.stats.InvalidAdverts++
		n.mu.Unlock()
		return
	}

	if res.ttl != 0 && res.ttl != 255 {
		n.mu.Lock()
		n.stats.InvalidAdverts++
		n.mu.Unlock()
		return
	}

	if pkt.VRID != n.cfg.VRID {
		return
	}

	dst := MulticastGroupIPv4
	if n.isIPv6 {
		dst = MulticastGroupIPv6
	}
	valid := VerifyChecksum(res.raw, res.src, dst)
	if !valid {
		n.mu.Lock()
		n.stats.ChecksumErrors++
		n.stats.InvalidAdverts++
		n.mu.Unlock()
		return
	}

	n.mu.Lock()
	n.stats.AdvertsReceived++
	if pkt.Priority == 0 {
		n.stats.PriorityZeroRecv++
	}
	n.mu.Unlock()

	switch n.State() {
	case StateBackup:
		if pkt.Priority == 0 {
			resetTimer(downTimer, time.Millisecond)
			return
		}
		if pkt.Priority >= n.cfg.Priority || !n.cfg.Preempt {
			resetTimer(downTimer, n.cfg.MasterDownInterval())
			return
		}
		// Lower-priority advertisement while preempt=true: ignore.

	case StateMaster:
		if pkt.Priority > n.cfg.Priority {
			n.setState(StateBackup)
			resetTimer(downTimer, n.cfg.MasterDownInterval())
			return
		}
		if pkt.Priority == n.cfg.Priority {
			if compareIP(res.src, n.localAddress()) > 0 {
				n.setState(StateBackup)
				resetTimer(downTimer, n.cfg.MasterDownInterval())
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// compareIP compares two IPs of the same family numerically, returning -1,
// 0, or 1.
func compareIP(a, b net.IP) int {
	a4, b4 := a.To4(), b.To4()
	if a4 != nil && b4 != nil {
		return compareBytes(a4, b4)
	}
	return compareBytes(a.To16(), b.To16())
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (n *Node) localAddress() net.IP {
	return n.cfg.PrimaryAddress
}

// sendAdvertisement builds and transmits one advertisement at the given
// priority (255 minus the configured priority is never used on the wire:
// priority 0 is only used for the shutdown sentinel).
func (n *Node) sendAdvertisement(priority uint8) error {
	pkt := &Packet{
		Version:      Version,
		Type:         AdvertisementType,
		VRID:         n.cfg.VRID,
		Priority:     priority,
		MaxAdvertInt: n.cfg.AdvertInterval,
		Addresses:    n.cfg.VirtualAddresses,
	}

	dst := MulticastGroupIPv4
	if n.isIPv6 {
		dst = MulticastGroupIPv6
	}

	raw := pkt.Serialize(n.localAddress(), dst)
	return n.sock.sendMulticast(raw)
}

// shutdown performs the RFC 5798 §6.4.2 shutdown sequence.
func (n *Node) shutdown() {
	if n.State() == StateMaster {
		if err := n.sendAdvertisement(0); err != nil {
			n.log.Warnw("failed to send shutdown advertisement", "vrid", n.cfg.VRID, "error", err)
		} else {
			n.mu.Lock()
			n.stats.AdvertsSent++
			n.mu.Unlock()
		}
	}
	n.setState(StateInit)
}
