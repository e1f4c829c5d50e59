package procman_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmattila/procman"
)

func TestLocalRunner_EndToEnd(t *testing.T) {
	ctx := context.Background()
	runner := procman.NewLocalRunner()

	decide := func(ctx context.Context, state *procman.ProcessManagerState) ([]procman.EmittedCommand, error) {
		return []procman.EmittedCommand{
			{CommandType: "ReserveStock", Payload: "sku-1"},
		}, nil
	}

	sub := procman.Define("order-fulfilment").
		On("OrderPlaced").
		CorrelateBy("orderId").
		BindCheckpoint(runner.Engine, decide, runner.Emitter())

	if err := runner.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ev := procman.EventEnvelope{
		EventID:        "ev-1",
		EventType:      "OrderPlaced",
		GlobalPosition: 1,
		StreamID:       "s-1",
		CorrelationID:  "corr-1",
		Payload:        map[string]any{"orderId": "order-42"},
	}
	if err := runner.Deliver(ctx, ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	// Redelivery of the same event is absorbed by the idempotency check.
	if err := runner.Deliver(ctx, ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	runner.Stop()

	st, err := procman.GetState(ctx, runner.Engine, "order-fulfilment", "order-42")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if st.Status != procman.StatusCompleted || st.LastGlobalPosition != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
	if st.CommandsEmitted != 1 {
		t.Fatalf("redelivery must not re-emit, got %d commands", st.CommandsEmitted)
	}

	if runner.PendingCommands() != 1 {
		t.Fatalf("expected 1 pending command, got %d", runner.PendingCommands())
	}

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	cmd, err := runner.NextCommand(dctx)
	if err != nil {
		t.Fatalf("NextCommand failed: %v", err)
	}
	if cmd.CommandType != "ReserveStock" || cmd.Payload != "sku-1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.CorrelationID != "corr-1" || cmd.CausationID != "ev-1" {
		t.Fatalf("expected inherited metadata, got %+v", cmd)
	}
}

func TestLocalRunner_StartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	runner := procman.NewLocalRunner()

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}
	runner.Stop()
	runner.Stop()
}

func TestLocalRunner_ObserverSeesOutcomes(t *testing.T) {
	ctx := context.Background()
	var metrics procman.BasicMetrics
	runner := procman.NewLocalRunnerWithObserver(&metrics)

	decide := func(ctx context.Context, state *procman.ProcessManagerState) ([]procman.EmittedCommand, error) {
		return nil, nil
	}

	sub := procman.Define("audit").
		On("OrderPlaced").
		BindCheckpoint(runner.Engine, decide, runner.Emitter())

	if err := runner.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		ev := procman.EventEnvelope{
			EventID:        "ev-" + string(rune('0'+i)),
			EventType:      "OrderPlaced",
			GlobalPosition: i,
			StreamID:       "s-1",
		}
		if err := runner.Deliver(ctx, ev); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	runner.Stop()

	snap := metrics.Snapshot()
	if snap.CheckpointsStarted != 3 || snap.CheckpointsProcessed != 3 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
}
