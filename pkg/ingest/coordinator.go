package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"activityd/pkg/logger"
	"activityd/pkg/metrics"
	"activityd/pkg/models"
	"activityd/pkg/store"
)

// Coordinator serializes store mutations through a single apply worker.
// All writers (API handlers, the feed scheduler) go through Submit; the
// store itself is only ever driven by one goroutine, so mutation order
// matches acceptance order exactly.
type Coordinator struct {
	q *Queue

	startOnce sync.Once
	done      chan struct{}
}

// NewCoordinator builds a coordinator over a fresh queue of the given
// capacity.
func NewCoordinator(capacity int) *Coordinator {
	return &Coordinator{q: NewQueue(capacity), done: make(chan struct{})}
}

// Queue exposes the underlying queue for depth and drop introspection.
func (c *Coordinator) Queue() *Queue { return c.q }

// Start launches the apply worker. Safe to call once; later calls are
// no-ops.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

func (c *Coordinator) run() {
	defer close(c.done)
	for it := range c.q.Out() {
		rec, err := store.Execute(it.Op)
		outcome := "ok"
		if err != nil {
			outcome = outcomeLabel(err)
			logger.Debug("apply_failed", "kind", string(it.Op.Kind), "record", it.Op.RecordID, "err", err)
		}
		metrics.OpsApplied.WithLabelValues(string(it.Op.Kind), outcome).Inc()
		it.deliver(rec, err)
		it.Done()
	}
	logger.Info("apply_worker_stopped")
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrAlreadyExists):
		return "exists"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Submit enqueues op and waits for its result. A full queue fails fast
// with ErrQueueFull; ctx expiry while waiting returns the ctx error but
// the accepted operation still commits in order.
func (c *Coordinator) Submit(ctx context.Context, op *models.PendingOperation) (*models.Record, error) {
	if op.TS == 0 {
		op.TS = time.Now().UTC().UnixNano()
	}
	it, err := c.q.TryEnqueue(op)
	if err != nil {
		return nil, err
	}
	return it.Wait(ctx)
}

// SubmitWait is like Submit but blocks at the queue boundary until
// space frees up or ctx expires, instead of failing fast.
func (c *Coordinator) SubmitWait(ctx context.Context, op *models.PendingOperation) (*models.Record, error) {
	if op.TS == 0 {
		op.TS = time.Now().UTC().UnixNano()
	}
	it, err := c.q.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}
	return it.Wait(ctx)
}

// Close stops accepting new operations, waits for the worker to drain
// everything already accepted, up to grace. Returns false on timeout.
func (c *Coordinator) Close(grace time.Duration) bool {
	c.q.Close()
	if grace <= 0 {
		<-c.done
		return true
	}
	select {
	case <-c.done:
		return true
	case <-time.After(grace):
		logger.Warn("apply_drain_timeout", "grace", grace.String(), "pending", c.q.Len())
		return false
	}
}
