package healthcheck

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConfigTask is the dedicated config-apply task that sits between the proxy
// endpoint and the Manager: the proxy's read loop enqueues desired-state
// updates instead of calling Reconcile inline, so a slow reconciliation never
// stalls the read of subsequent proxy messages. The queue is bounded; a full
// queue blocks the enqueuer, the same intentional backpressure the Notifier
// applies to the poller.
type ConfigTask struct {
	queue   chan []CheckSpec
	manager *Manager
	log     *zap.SugaredLogger
}

// NewConfigTask constructs a ConfigTask with the given queue depth.
func NewConfigTask(queueSize int, manager *Manager, log *zap.SugaredLogger) *ConfigTask {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConfigTask{
		queue:   make(chan []CheckSpec, queueSize),
		manager: manager,
		log:     log,
	}
}

// Enqueue submits a desired-state update for the config task to apply. It
// blocks if the queue is full, applying backpressure to the caller (the
// proxy's read loop).
func (t *ConfigTask) Enqueue(specs []CheckSpec) {
	t.queue <- specs
}

// Run dequeues desired-state updates and applies each via Manager.Reconcile
// until ctx is canceled. Draining is best-effort: the task returns as soon as
// ctx is done, leaving any queued-but-unapplied update unprocessed.
func (t *ConfigTask) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case specs := <-t.queue:
			if err := t.manager.Reconcile(specs); err != nil {
				t.log.Warnw("failed to reconcile monitors", "error", err)
			}
		}
	}
}

// Manager owns the set of active Monitors, keyed by CheckId, and reconciles
// it against configuration pushed by the control agent.
type Manager struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	monitors map[CheckId]*Monitor

	ctx context.Context
}

// NewManager constructs an empty Manager. ctx bounds the lifetime of every
// monitor it starts; canceling ctx stops them all.
func NewManager(ctx context.Context, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		log:      log,
		monitors: make(map[CheckId]*Monitor),
		ctx:      ctx,
	}
}

// Reconcile applies a full desired-state configuration update: monitors
// whose id is no longer present are stopped and dropped; monitors whose spec
// changed are rebuilt; new ids are constructed and started.
func (m *Manager) Reconcile(specs []CheckSpec) error {
	desired := make(map[CheckId]CheckSpec, len(specs))
	for _, spec := range specs {
		desired[spec.ID] = spec
	}

	var toStop []*Monitor
	var toStart []CheckSpec

	m.mu.Lock()
	for id, mon := range m.monitors {
		spec, ok := desired[id]
		if !ok {
			toStop = append(toStop, mon)
			delete(m.monitors, id)
			continue
		}
		if !specEqual(mon.Spec(), spec) {
			toStop = append(toStop, mon)
			delete(m.monitors, id)
			toStart = append(toStart, spec)
		}
	}
	for id, spec := range desired {
		if _, ok := m.monitors[id]; !ok {
			alreadyQueued := false
			for _, q := range toStart {
				if q.ID == id {
					alreadyQueued = true
					break
				}
			}
			if !alreadyQueued {
				toStart = append(toStart, spec)
			}
		}
	}
	m.mu.Unlock()

	for _, mon := range toStop {
		mon.Stop()
	}

	for _, spec := range toStart {
		checker, err := NewChecker(&spec)
		if err != nil {
			m.log.Warnw("failed to build checker", "check_id", spec.ID, "error", err)
			continue
		}

		mon := NewMonitor(spec, checker, m.log.Named(string(spec.ID)))
		mon.Start(m.ctx)

		m.mu.Lock()
		m.monitors[spec.ID] = mon
		m.mu.Unlock()
	}

	m.mu.RLock()
	active := len(m.monitors)
	m.mu.RUnlock()
	m.log.Infow("reconciled monitor set", "active_monitors", active)

	return nil
}

// Snapshot is a poller's read of one monitor's state at a point in time.
type Snapshot struct {
	ID    CheckId
	Kind  CheckKind
	Up    bool
	Stats MonitorStats
}

// Snapshots returns a point-in-time copy of every monitor's derived state,
// taken without holding the map lock across any blocking call.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	monitors := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		monitors = append(monitors, mon)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(monitors))
	for _, mon := range monitors {
		snaps = append(snaps, Snapshot{
			ID:    mon.Spec().ID,
			Kind:  mon.Spec().Kind,
			Up:    mon.IsUp(),
			Stats: mon.Stats(),
		})
	}
	return snaps
}

// StopAll stops every monitor, for use during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	monitors := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		monitors = append(monitors, mon)
	}
	m.monitors = make(map[CheckId]*Monitor)
	m.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
}

func specEqual(a, b CheckSpec) bool {
	if a.Kind != b.Kind || a.Address != b.Address || a.Port != b.Port {
		return false
	}
	if a.Interval != b.Interval || a.Timeout != b.Timeout || a.Retries != b.Retries {
		return false
	}
	switch a.Kind {
	case CheckKindHTTP:
		if a.HTTPMethod != b.HTTPMethod || a.HTTPScheme != b.HTTPScheme || a.HTTPPath != b.HTTPPath {
			return false
		}
		return intSliceEqual(a.HTTPExpectedCodes, b.HTTPExpectedCodes)
	case CheckKindDNS:
		if a.DNSQuery != b.DNSQuery {
			return false
		}
		return stringSliceEqual(a.DNSExpectedIPs, b.DNSExpectedIPs)
	default:
		return true
	}
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
