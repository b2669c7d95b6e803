package healthcheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifierFlushesOnBatchSize(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Notification

	sink := func(batch []Notification) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]Notification, len(batch))
		copy(cp, batch)
		batches = append(batches, cp)
		return nil
	}

	n := NewNotifier(16, 2, time.Hour, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(Notification{ID: "a"})
	n.Enqueue(Notification{ID: "b"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierFlushesOnDelay(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Notification

	sink := func(batch []Notification) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batch)
		return nil
	}

	n := NewNotifier(16, 100, 20*time.Millisecond, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(Notification{ID: "a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierSendFailureIsCounted(t *testing.T) {
	sink := func(batch []Notification) error {
		return require.AnError
	}

	n := NewNotifier(16, 1, time.Hour, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(Notification{ID: "a"})

	require.Eventually(t, func() bool {
		return n.SendFailures() == 1
	}, time.Second, 5*time.Millisecond)
}
