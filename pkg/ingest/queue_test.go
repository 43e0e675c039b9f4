package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"activityd/pkg/models"
)

func TestTryEnqueueFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 2; i++ {
		if _, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	_, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Dropped() == 0 {
		t.Fatal("dropped counter not incremented")
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Fatalf("len=%d cap=%d", q.Len(), q.Cap())
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewQueue(4)
	go func() {
		for it := range q.Out() {
			it.deliver(nil, nil)
			it.Done()
		}
	}()
	q.Close()
	if _, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Enqueue(context.Background(), &models.PendingOperation{Kind: models.OpInsert, RecordID: "r"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestEnqueueBlockingCancel(t *testing.T) {
	q := NewQueue(1)
	if _, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "a"}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Enqueue(ctx, &models.PendingOperation{Kind: models.OpInsert, RecordID: "b"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPayloadCopied(t *testing.T) {
	q := NewQueue(1)
	src := []byte(`{"k":"v"}`)
	it, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r", Payload: src})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// caller may reuse its buffer after enqueue
	src[2] = 'X'
	if string(it.Op.Payload) != `{"k":"v"}` {
		t.Fatalf("payload aliased caller buffer: %s", it.Op.Payload)
	}
	it.Done()
}

func TestItemWaitDelivery(t *testing.T) {
	q := NewQueue(1)
	it, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	go func() {
		it.deliver(&models.Record{ID: "r", Version: 1}, nil)
		it.Done()
	}()
	rec, err := it.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if rec.ID != "r" || rec.Version != 1 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestItemWaitCancelled(t *testing.T) {
	q := NewQueue(1)
	it, err := q.TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "r"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := it.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	// delivery after abandonment must not block
	it.deliver(&models.Record{ID: "r"}, nil)
	it.Done()
}
