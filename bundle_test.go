package procman_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jmattila/procman"
)

func newBundleDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteBundle_StateAndCommandsShareDatabase(t *testing.T) {
	ctx := context.Background()
	db := newBundleDB(t)

	bundle, err := procman.NewSQLiteBundle(db)
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}

	decide := func(ctx context.Context, state *procman.ProcessManagerState) ([]procman.EmittedCommand, error) {
		return []procman.EmittedCommand{{CommandType: "ShipOrder", Payload: "order-1"}}, nil
	}

	ev := procman.EventEnvelope{
		EventID:        "ev-1",
		EventType:      "PaymentTaken",
		GlobalPosition: 2,
		StreamID:       "order-1",
	}

	res := bundle.Engine.ProcessCheckpoint(ctx, "shipping", "order-1", ev, decide, bundle.Emitter())
	if res.Kind != procman.ResultProcessed {
		t.Fatalf("expected processed, got %+v", res)
	}

	if bundle.PendingCommands() != 1 {
		t.Fatalf("expected 1 pending command, got %d", bundle.PendingCommands())
	}

	st, err := procman.GetState(ctx, bundle.Engine, "shipping", "order-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if st.Status != procman.StatusCompleted || st.LastGlobalPosition != 2 {
		t.Fatalf("unexpected state: %+v", st)
	}

	// Both tables live in the caller's database.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pm_states`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("pm_states not in shared db: n=%d err=%v", n, err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM pm_commands`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("pm_commands not in shared db: n=%d err=%v", n, err)
	}
}

func TestSQLiteBundle_WithObserver(t *testing.T) {
	ctx := context.Background()
	db := newBundleDB(t)

	var metrics procman.BasicMetrics
	bundle, err := procman.NewSQLiteBundleWithObserver(db, &metrics)
	if err != nil {
		t.Fatalf("NewSQLiteBundleWithObserver failed: %v", err)
	}

	decide := func(ctx context.Context, state *procman.ProcessManagerState) ([]procman.EmittedCommand, error) {
		return nil, nil
	}

	ev := procman.EventEnvelope{EventID: "ev-1", EventType: "X", GlobalPosition: 1, StreamID: "s-1"}
	if res := bundle.Engine.ProcessCheckpoint(ctx, "pm", "s-1", ev, decide, bundle.Emitter()); res.Kind != procman.ResultProcessed {
		t.Fatalf("expected processed, got %+v", res)
	}

	snap := metrics.Snapshot()
	if snap.CheckpointsProcessed != 1 {
		t.Fatalf("observer not wired: %+v", snap)
	}
}
