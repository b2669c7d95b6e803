package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerReconcileAddRemoveRebuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx, nil)

	specA := CheckSpec{ID: "a", Kind: CheckKindTCP, Address: "127.0.0.1", Port: 1, Interval: time.Hour, Timeout: time.Millisecond, Retries: 1}
	specB := CheckSpec{ID: "b", Kind: CheckKindTCP, Address: "127.0.0.1", Port: 2, Interval: time.Hour, Timeout: time.Millisecond, Retries: 1}

	require.NoError(t, m.Reconcile([]CheckSpec{specA, specB}))
	require.Len(t, m.Snapshots(), 2)

	// Drop b, keep a unchanged.
	require.NoError(t, m.Reconcile([]CheckSpec{specA}))
	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, CheckId("a"), snaps[0].ID)

	// Rebuild a with a changed port.
	specA2 := specA
	specA2.Port = 99
	require.NoError(t, m.Reconcile([]CheckSpec{specA2}))
	snaps = m.Snapshots()
	require.Len(t, snaps, 1)

	m.StopAll()
	require.Empty(t, m.Snapshots())
}

func TestConfigTaskAppliesQueuedUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx, nil)
	task := NewConfigTask(10, m, nil)
	go task.Run(ctx)

	spec := CheckSpec{ID: "a", Kind: CheckKindTCP, Address: "127.0.0.1", Port: 1, Interval: time.Hour, Timeout: time.Millisecond, Retries: 1}
	task.Enqueue([]CheckSpec{spec})

	require.Eventually(t, func() bool {
		return len(m.Snapshots()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSpecEqual(t *testing.T) {
	a := CheckSpec{Kind: CheckKindHTTP, Address: "h", Port: 1, Interval: time.Second, Timeout: time.Second, HTTPExpectedCodes: []int{200}}
	b := a
	require.True(t, specEqual(a, b))

	b.HTTPExpectedCodes = []int{200, 201}
	require.False(t, specEqual(a, b))
}
