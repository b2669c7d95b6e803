package healthcheck

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Notifier batches Notifications from a bounded queue and ships them to a
// sink, flushing either when a batch fills or when batch_delay has elapsed
// since the last flush.
type Notifier struct {
	queue     chan Notification
	batchSize int
	batchWait time.Duration
	sink      func([]Notification) error
	log       *zap.SugaredLogger

	flushed     uint64
	sendFailures uint64
}

// NewNotifier constructs a Notifier. sink is called with each batch in
// enqueue order; a sink error is logged and counted, the batch is still
// cleared (the upstream sees a gap rather than replay).
func NewNotifier(queueSize, batchSize int, batchWait time.Duration, sink func([]Notification) error, log *zap.SugaredLogger) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{
		queue:     make(chan Notification, queueSize),
		batchSize: batchSize,
		batchWait: batchWait,
		sink:      sink,
		log:       log,
	}
}

// Enqueue submits a Notification for delivery. It blocks if the queue is
// full, applying backpressure to the poller.
func (n *Notifier) Enqueue(notif Notification) {
	n.queue <- notif
}

// Run drains the queue until ctx is canceled, flushing on whichever trigger
// fires first. Draining on shutdown is best-effort: the batch already taken
// from the queue is flushed once, then Run returns; items still waiting in
// the queue are not delivered.
func (n *Notifier) Run(ctx context.Context) error {
	timer := time.NewTimer(n.batchWait)
	defer timer.Stop()

	var batch []Notification

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := n.sink(batch); err != nil {
			atomic.AddUint64(&n.sendFailures, 1)
			n.log.Warnw("notification batch delivery failed", "error", err, "batch_size", len(batch))
		} else {
			atomic.AddUint64(&n.flushed, uint64(len(batch)))
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case notif := <-n.queue:
			batch = append(batch, notif)
			if len(batch) >= n.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(n.batchWait)
			}

		case <-timer.C:
			flush()
			timer.Reset(n.batchWait)
		}
	}
}

// SendFailures returns the count of batches whose sink delivery failed.
func (n *Notifier) SendFailures() uint64 {
	return atomic.LoadUint64(&n.sendFailures)
}
