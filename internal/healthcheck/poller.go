package healthcheck

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// pollerState is what the poller remembers about a monitor between ticks, to
// derive counter deltas and to detect state transitions.
type pollerState struct {
	lastReported Status
	reported     bool
	prevTotal    uint64
	prevSuccess  uint64
}

// Poller ticks independently of each monitor's own check interval, turning
// Manager snapshots into Notifications on up/down transitions.
type Poller struct {
	manager  *Manager
	interval time.Duration
	log      *zap.SugaredLogger

	notify func(Notification)

	state map[CheckId]*pollerState
}

// NewPoller constructs a Poller that ticks every interval and calls notify
// for each observed state transition.
func NewPoller(manager *Manager, interval time.Duration, notify func(Notification), log *zap.SugaredLogger) *Poller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Poller{
		manager:  manager,
		interval: interval,
		log:      log,
		notify:   notify,
		state:    make(map[CheckId]*pollerState),
	}
}

// Run ticks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick snapshots every monitor without holding any lock across I/O, emits
// observations for counter deltas, and reports any up/down transition since
// the last tick. Unknown→anything counts as a transition.
func (p *Poller) tick() {
	snapshots := p.manager.Snapshots()

	seen := make(map[CheckId]struct{}, len(snapshots))

	for _, snap := range snapshots {
		seen[snap.ID] = struct{}{}

		st, ok := p.state[snap.ID]
		if !ok {
			st = &pollerState{}
			p.state[snap.ID] = st
		}

		checks := snap.Stats.TotalChecks - st.prevTotal
		successes := snap.Stats.SuccessfulChecks - st.prevSuccess
		if checks > 0 {
			p.log.Debugw("monitor observations", "check_id", snap.ID, "checks", checks, "successes", successes, "avg_response_time_ms", snap.Stats.AvgResponseTimeMs)
		}
		st.prevTotal = snap.Stats.TotalChecks
		st.prevSuccess = snap.Stats.SuccessfulChecks

		derived := StatusUnhealthy
		if snap.Up {
			derived = StatusHealthy
		}

		if !st.reported || st.lastReported != derived {
			st.reported = true
			st.lastReported = derived
			if p.notify != nil {
				p.notify(Notification{
					ID:            snap.ID,
					Status:        derived,
					LastCheckTime: snap.Stats.LastCheckTime,
					Duration:      snap.Stats.LastDuration,
					Failures:      snap.Stats.FailedChecks + snap.Stats.Timeouts,
					Successes:     snap.Stats.SuccessfulChecks,
					Message:       snap.Stats.LastMessage,
					Stats:         snap.Stats,
				})
			}
		}
	}

	for id := range p.state {
		if _, ok := seen[id]; !ok {
			delete(p.state, id)
		}
	}
}
