package taskqueue

import (
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

type orderPayload struct {
	OrderID string
	Qty     int
}

func init() {
	gob.Register(orderPayload{})
}

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}

	return q
}

func TestSQLiteQueue_EnqueueDequeue(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	cmd := Command{
		ID:            "c1",
		CommandType:   "ReserveStock",
		Payload:       orderPayload{OrderID: "order-1", Qty: 2},
		CorrelationID: "corr-1",
		CausationID:   "ev-1",
		PartitionKey:  "order-1",
	}
	if err := q.Enqueue(ctx, cmd); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "c1" || got.CommandType != "ReserveStock" {
		t.Fatalf("unexpected command: %+v", got)
	}
	if got.CorrelationID != "corr-1" || got.CausationID != "ev-1" || got.PartitionKey != "order-1" {
		t.Fatalf("metadata did not round-trip: %+v", got)
	}

	payload, ok := got.Payload.(orderPayload)
	if !ok {
		t.Fatalf("expected orderPayload, got %T", got.Payload)
	}
	if payload.OrderID != "order-1" || payload.Qty != 2 {
		t.Fatalf("payload did not round-trip: %+v", payload)
	}

	if q.Len() != 0 {
		t.Fatalf("dequeued row must be deleted, got len %d", q.Len())
	}
}

func TestSQLiteQueue_FIFOOrder(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := q.Enqueue(ctx, Command{ID: id, CommandType: "T"}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	for _, want := range []string{"c1", "c2", "c3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != want {
			t.Fatalf("expected %s, got %s", want, got.ID)
		}
	}
}

func TestSQLiteQueue_NotBeforeDelaysDelivery(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	future := time.Now().Add(100 * time.Millisecond)
	if err := q.Enqueue(ctx, Command{ID: "delayed", CommandType: "T", NotBefore: future}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Command{ID: "immediate", CommandType: "T"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// The immediately eligible command comes out first, despite the delayed
	// one being enqueued earlier.
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "immediate" {
		t.Fatalf("expected immediate command first, got %s", got.ID)
	}

	// The delayed command becomes visible once its time arrives.
	got, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "delayed" {
		t.Fatalf("expected delayed command, got %s", got.ID)
	}
	if time.Now().Before(future) {
		t.Fatalf("delayed command delivered before its not-before time")
	}
}

func TestSQLiteQueue_DequeueRespectsContext(t *testing.T) {
	q := newTestSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
