package healthcheck

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedChecker returns a fixed sequence of results, repeating the last
// one once the sequence is exhausted.
type scriptedChecker struct {
	results []Result
	calls   int32
}

func (c *scriptedChecker) Name() string { return "scripted" }

func (c *scriptedChecker) Check(ctx context.Context) Result {
	i := atomic.AddInt32(&c.calls, 1) - 1
	if int(i) >= len(c.results) {
		return c.results[len(c.results)-1]
	}
	return c.results[i]
}

func TestMonitorHysteresisRiseFall(t *testing.T) {
	checker := &scriptedChecker{results: []Result{
		{Status: StatusHealthy},
		{Status: StatusHealthy},
		{Status: StatusUnhealthy},
		{Status: StatusUnhealthy},
	}}

	spec := CheckSpec{ID: "a", Interval: 10 * time.Millisecond, Retries: 1} // rise=fall=2
	m := NewMonitor(spec, checker, nil)

	require.False(t, m.IsUp())

	m.probeOnce(context.Background())
	require.False(t, m.IsUp())
	m.probeOnce(context.Background())
	require.True(t, m.IsUp())

	m.probeOnce(context.Background())
	require.True(t, m.IsUp())
	m.probeOnce(context.Background())
	require.False(t, m.IsUp())
}

func TestMonitorAvgResponseTime(t *testing.T) {
	checker := &scriptedChecker{results: []Result{
		{Status: StatusHealthy, Duration: 100 * time.Millisecond},
		{Status: StatusHealthy, Duration: 200 * time.Millisecond},
	}}

	m := NewMonitor(CheckSpec{ID: "a", Interval: time.Second, Retries: 1}, checker, nil)
	m.probeOnce(context.Background())
	m.probeOnce(context.Background())

	require.InDelta(t, 150, m.Stats().AvgResponseTimeMs, 0.001)
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	checker := &scriptedChecker{results: []Result{{Status: StatusHealthy}}}
	m := NewMonitor(CheckSpec{ID: "a", Interval: 5 * time.Millisecond, Retries: 1}, checker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx) // no-op

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Stop() // no-op, must not hang or panic
}
