package healthcheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollerReportsOnlyTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := NewManager(ctx, nil)
	checker := &scriptedChecker{results: []Result{{Status: StatusHealthy}}}
	spec := CheckSpec{ID: "a", Kind: CheckKindTCP, Interval: time.Hour, Retries: 1}
	mon := NewMonitor(spec, checker, nil)
	mon.Start(ctx)
	t.Cleanup(mon.Stop)

	manager.mu.Lock()
	manager.monitors["a"] = mon
	manager.mu.Unlock()

	var mu sync.Mutex
	var notifications []Notification
	poller := NewPoller(manager, time.Hour, func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		notifications = append(notifications, n)
	}, nil)

	// Unknown -> anything counts as a transition, even while still down.
	poller.tick()
	mu.Lock()
	require.Len(t, notifications, 1)
	require.Equal(t, StatusUnhealthy, notifications[0].Status)
	mu.Unlock()

	// No state change: no new notification.
	poller.tick()
	mu.Lock()
	require.Len(t, notifications, 1)
	mu.Unlock()

	// Drive the monitor up directly and verify the next tick reports it.
	mon.mu.Lock()
	mon.up = true
	mon.mu.Unlock()

	poller.tick()
	mu.Lock()
	require.Len(t, notifications, 2)
	require.Equal(t, StatusHealthy, notifications[1].Status)
	mu.Unlock()
}
