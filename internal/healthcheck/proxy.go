package healthcheck

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Proxy is the duplex endpoint the control agent connects to: a single
// stream-socket listener that accepts exactly one connection, then exchanges
// newline-delimited JSON messages until the peer disconnects. The read and
// write halves are owned separately: reads go straight to readLoop, writes go
// through a bounded outbound queue drained by a dedicated writeLoop, so a
// slow write never stalls the read side and vice versa.
//
// Proxy also serves as the Notifier's sink: Send is wired into NewNotifier
// so batches produced while no agent is connected are reported as delivery
// failures rather than silently dropped.
type Proxy struct {
	path        string
	manager     *Manager
	updates     *ConfigTask
	outboundCap int
	log         *zap.SugaredLogger

	mu       sync.Mutex
	outbound chan ServerToProxyMsg

	parseErrors uint64
}

// NewProxy constructs a Proxy bound to path (a filesystem path for a unix
// socket). Incoming UpdateConfigs messages are handed to updates rather than
// applied inline, so reconciliation never blocks the read loop. outboundQueueSize
// bounds the write-side queue; a full queue blocks the producer (Send, or the
// read loop's status-response path), the same intentional backpressure the
// Notifier applies to the poller.
func NewProxy(path string, manager *Manager, updates *ConfigTask, outboundQueueSize int, log *zap.SugaredLogger) *Proxy {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Proxy{path: path, manager: manager, updates: updates, outboundCap: outboundQueueSize, log: log}
}

// Send delivers one notification batch to the connected control agent. It
// is the sink passed to NewNotifier. If no agent is currently connected, it
// returns an error so the notifier counts the batch as a send failure.
func (p *Proxy) Send(batch []Notification) error {
	p.mu.Lock()
	out := p.outbound
	p.mu.Unlock()

	if out == nil {
		return fmt.Errorf("healthcheck: no control agent connected")
	}
	out <- notificationBatchMessage(batch)
	return nil
}

// listen removes any stale socket file and binds a new unix listener.
func (p *Proxy) listen() (net.Listener, error) {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	return net.Listen("unix", p.path)
}

// Serve accepts exactly one connection from the control agent and services
// it until disconnect. The caller is expected to restart Serve (or exit) on
// return, matching the core's no-reconnect-loop contract.
func (p *Proxy) Serve() error {
	ln, err := p.listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept control agent connection: %w", err)
	}
	defer conn.Close()

	p.log.Infow("control agent connected", "path", p.path)
	defer p.log.Infow("control agent disconnected", "path", p.path)

	return p.serveConn(conn)
}

func (p *Proxy) serveConn(conn net.Conn) error {
	writer := newFramedWriter(conn)
	if err := writer.write(readyMessage()); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	outbound := make(chan ServerToProxyMsg, p.outboundCap)
	stop := make(chan struct{})

	p.mu.Lock()
	p.outbound = outbound
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.outbound = nil
		p.mu.Unlock()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		p.writeLoop(writer, outbound, stop)
	}()

	err := p.readLoop(conn)
	close(stop)
	<-writeDone
	return err
}

// writeLoop dequeues outbound messages and writes each in a single I/O until
// stop is closed, which happens once the read loop has ended.
func (p *Proxy) writeLoop(writer *framedWriter, outbound <-chan ServerToProxyMsg, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-outbound:
			if err := writer.write(msg); err != nil {
				p.log.Warnw("failed to write message to control agent", "error", err)
			}
		}
	}
}

func (p *Proxy) readLoop(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		var msg ProxyToServerMsg
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.parseErrors++
			p.log.Warnw("failed to parse control agent message", "error", err)
			continue
		}

		switch msg.Type {
		case msgUpdateConfigs:
			specs := make([]CheckSpec, 0, len(msg.Configs))
			for _, w := range msg.Configs {
				specs = append(specs, fromWire(w))
			}
			p.updates.Enqueue(specs)

		case msgRequestStatus:
			snaps := p.manager.Snapshots()
			p.mu.Lock()
			out := p.outbound
			p.mu.Unlock()
			if out != nil {
				out <- statusResponseMessage(snaps)
			}

		case msgShutdown:
			return nil

		default:
			p.parseErrors++
			p.log.Warnw("unknown message type from control agent", "type", msg.Type)
		}
	}

	return scanner.Err()
}

// framedWriter writes one JSON value per line, reusing a single buffer. Only
// writeLoop calls write, so the mutex serializes nothing today, but the type
// is not safe for concurrent use otherwise.
type framedWriter struct {
	conn net.Conn

	mu  sync.Mutex
	buf []byte
}

func newFramedWriter(conn net.Conn) *framedWriter {
	return &framedWriter{conn: conn, buf: make([]byte, 0, 4096)}
}

func (w *framedWriter) write(v ServerToProxyMsg) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.buf = append(w.buf, encoded...)
	w.buf = append(w.buf, '\n')
	_, err = w.conn.Write(w.buf)
	return err
}
