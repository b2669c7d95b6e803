package healthcheck

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor owns one Checker and runs it on spec.Interval, tracking rolling
// stats and applying rise/fall hysteresis to derive an up/down state.
type Monitor struct {
	spec    CheckSpec
	checker Checker
	rise    int
	fall    int
	log     *zap.SugaredLogger

	mu    sync.Mutex
	up    bool
	stats MonitorStats

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewMonitor constructs a Monitor for spec, starting in the down state until
// enough consecutive successes are observed.
func NewMonitor(spec CheckSpec, checker Checker, log *zap.SugaredLogger) *Monitor {
	rise, fall := spec.thresholds()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Monitor{
		spec:    spec,
		checker: checker,
		rise:    rise,
		fall:    fall,
		log:     log,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Spec returns the configuration this monitor was built from.
func (m *Monitor) Spec() CheckSpec { return m.spec }

// IsUp reports the monitor's current derived state.
func (m *Monitor) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Start runs the probe loop in a new goroutine. Start is idempotent: a
// second call on an already-started monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.once.Do(func() {
		go m.run(ctx)
	})
}

// Stop requests the probe loop to exit and waits for it to do so. Stop is
// idempotent.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.stopped
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)

	ticker := time.NewTicker(m.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	result := m.checker.Check(ctx)

	m.mu.Lock()
	m.stats.update(result)

	if !m.up && m.stats.ConsecutiveSuccesses >= m.rise {
		m.up = true
	} else if m.up && m.stats.ConsecutiveFailures >= m.fall {
		m.up = false
	}
	m.mu.Unlock()
}
