package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"activityd/pkg/metrics"
	"activityd/pkg/models"
)

const fallbackQueueCapacity = 1024

// maxPooledBuffer is the largest payload buffer returned to the pool.
// Bigger buffers are dropped so resident memory stays bounded.
var maxPooledBuffer = 256 * 1024

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("write queue full")
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("write queue closed")
)

var opPool = sync.Pool{New: func() any { return &models.PendingOperation{} }}

var (
	enqueueTotal     uint64
	enqueueFailTotal uint64
	enqSeq           uint64
)

type result struct {
	rec *models.Record
	err error
}

// Item is one accepted operation travelling through the queue. The Op
// payload may be backed by a pooled buffer; the apply worker must call
// Done exactly once after executing it. The result channel is allocated
// fresh per item and buffered, so delivery never blocks the worker even
// when the submitter has stopped waiting.
type Item struct {
	Op *models.PendingOperation

	buf  *bytebufferpool.ByteBuffer
	res  chan result
	once sync.Once
	q    *Queue
}

// deliver hands the execution outcome to the waiting submitter. The
// buffered channel makes this non-blocking; an abandoned item simply
// keeps the result until GC.
func (it *Item) deliver(rec *models.Record, err error) {
	select {
	case it.res <- result{rec: rec, err: err}:
	default:
	}
}

// Wait blocks until the operation has been executed or ctx is done.
// Cancellation abandons the wait only; the accepted operation still
// executes in order.
func (it *Item) Wait(ctx context.Context) (*models.Record, error) {
	select {
	case r := <-it.res:
		return r.rec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			metrics.QueueDepth.Dec()
			it.q = nil
		}
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}

// Queue is a threadsafe, fixed-size in-memory queue of pending store
// operations. Capacity is set at construction and never grows.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32

	enqWg     sync.WaitGroup
	closeOnce sync.Once
	inFlight  int64
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out exposes accepted items for the apply worker (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

// prepare copies op into pooled storage and wraps it in a fresh Item.
func (q *Queue) prepare(op *models.PendingOperation) *Item {
	newOp := opPool.Get().(*models.PendingOperation)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	return &Item{Op: newOp, buf: bb, res: make(chan result, 1), q: q}
}

func (it *Item) discard() {
	if it.buf != nil {
		bytebufferpool.Put(it.buf)
		it.buf = nil
	}
	it.Op.Payload = nil
	opPool.Put(it.Op)
	it.Op = nil
}

// TryEnqueue enqueues an operation without blocking. It returns the
// queued Item for the caller to Wait on, or ErrQueueFull / ErrQueueClosed.
func (q *Queue) TryEnqueue(op *models.PendingOperation) (*Item, error) {
	atomic.AddUint64(&enqueueTotal, 1)

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return nil, ErrQueueClosed
	}

	q.enqWg.Add(1)
	defer q.enqWg.Done()

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return nil, ErrQueueClosed
	}

	it := q.prepare(op)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		metrics.QueueDepth.Inc()
		return it, nil
	default:
		it.discard()
		atomic.AddUint64(&q.dropped, 1)
		atomic.AddUint64(&enqueueFailTotal, 1)
		metrics.QueueRejected.WithLabelValues("full").Inc()
		return nil, ErrQueueFull
	}
}

// Enqueue blocks until op is accepted or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, op *models.PendingOperation) (*Item, error) {
	atomic.AddUint64(&enqueueTotal, 1)

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return nil, ErrQueueClosed
	}

	q.enqWg.Add(1)
	defer q.enqWg.Done()

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return nil, ErrQueueClosed
	}

	it := q.prepare(op)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		metrics.QueueDepth.Inc()
		return it, nil
	case <-ctx.Done():
		it.discard()
		atomic.AddUint64(&q.dropped, 1)
		atomic.AddUint64(&enqueueFailTotal, 1)
		metrics.QueueRejected.WithLabelValues("timeout").Inc()
		return nil, ctx.Err()
	}
}

// Close marks the queue closed, waits for in-progress enqueues to
// settle, then closes the channel so the worker drains and exits.
// Operations accepted before Close are still executed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
	})
}

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity of the queue.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of operations refused due to a full queue
// or enqueue cancellation.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// EnqueuedTotal returns total attempted enqueues.
func (q *Queue) EnqueuedTotal() uint64 { return atomic.LoadUint64(&enqueueTotal) }

// FailedTotal returns total enqueue failures.
func (q *Queue) FailedTotal() uint64 { return atomic.LoadUint64(&enqueueFailTotal) }
