package procman_test

import (
	"context"
	"testing"

	"github.com/jmattila/procman"
)

func TestBinder_SubscriptionName(t *testing.T) {
	b := procman.Define("payment-recovery")
	if got := b.SubscriptionName(); got != "pm:payment-recovery" {
		t.Fatalf("expected pm:payment-recovery, got %s", got)
	}

	b = procman.Define("payment-recovery").InContext("billing")
	if got := b.SubscriptionName(); got != "pm:billing:payment-recovery" {
		t.Fatalf("expected pm:billing:payment-recovery, got %s", got)
	}
}

func TestDefine_EmptyNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for empty name")
		}
	}()
	procman.Define("")
}

func TestBinder_BindNilHandlerPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil handler")
		}
	}()
	procman.Define("pm").Bind(nil)
}

func TestBinder_DefaultSubscriptionShape(t *testing.T) {
	handler := func(ctx context.Context, args procman.HandlerArgs) error { return nil }

	sub := procman.Define("order-fulfilment").
		InContext("sales").
		On("OrderPlaced", "OrderCancelled").
		CorrelateBy("orderId").
		Bind(handler)

	if sub.Name != "pm:sales:order-fulfilment" {
		t.Fatalf("unexpected name: %s", sub.Name)
	}
	if sub.Priority != procman.PriorityProcessManager {
		t.Fatalf("expected default priority %d, got %d", procman.PriorityProcessManager, sub.Priority)
	}
	if !sub.Filter.Matches("OrderPlaced") || !sub.Filter.Matches("OrderCancelled") || sub.Filter.Matches("Other") {
		t.Fatalf("unexpected filter: %+v", sub.Filter)
	}

	ev := procman.EventEnvelope{
		EventID:        "ev-1",
		EventType:      "OrderPlaced",
		GlobalPosition: 3,
		StreamID:       "stream-7",
		Payload:        map[string]any{"orderId": "order-42"},
	}

	// Correlation property wins over the stream id.
	instanceID := sub.InstanceID(ev)
	if instanceID != "order-42" {
		t.Fatalf("expected order-42, got %s", instanceID)
	}

	args := sub.ArgumentBuilder(ev, instanceID)
	if args.InstanceID != "order-42" || args.EventID != "ev-1" || args.GlobalPosition != 3 {
		t.Fatalf("unexpected args: %+v", args)
	}
	if args.BoundedContext != "sales" {
		t.Fatalf("expected bounded context on args, got %q", args.BoundedContext)
	}

	// Default partition key is the resolved instance id.
	if key := sub.PartitionKeyBuilder(ev, instanceID); key != "order-42" {
		t.Fatalf("expected partition key order-42, got %s", key)
	}
}

func TestBinder_Overrides(t *testing.T) {
	handler := func(ctx context.Context, args procman.HandlerArgs) error { return nil }

	sub := procman.Define("audit").
		On("Anything").
		WithPriority(procman.PrioritySaga).
		WithArgumentTransformer(func(ev procman.EventEnvelope, instanceID string) procman.HandlerArgs {
			return procman.HandlerArgs{EventID: "custom", InstanceID: instanceID}
		}).
		WithPartitionKey(func(ev procman.EventEnvelope, instanceID string) string {
			return "fixed"
		}).
		Bind(handler)

	if sub.Priority != procman.PrioritySaga {
		t.Fatalf("expected saga priority, got %d", sub.Priority)
	}

	ev := procman.EventEnvelope{EventID: "ev-1", EventType: "Anything", StreamID: "s-1"}
	args := sub.ArgumentBuilder(ev, "inst")
	if args.EventID != "custom" || args.InstanceID != "inst" {
		t.Fatalf("transformer not applied: %+v", args)
	}
	if key := sub.PartitionKeyBuilder(ev, "inst"); key != "fixed" {
		t.Fatalf("partition override not applied: %s", key)
	}
}

func TestBinder_BindCheckpointRunsEngine(t *testing.T) {
	ctx := context.Background()
	eng := procman.NewInMemoryEngine()

	decide := func(ctx context.Context, state *procman.ProcessManagerState) ([]procman.EmittedCommand, error) {
		return []procman.EmittedCommand{{CommandType: "RefundPayment"}}, nil
	}
	var emitted []procman.EmittedCommand
	emit := func(ctx context.Context, commands []procman.EmittedCommand) error {
		emitted = append(emitted, commands...)
		return nil
	}

	sub := procman.Define("payment-recovery").
		On("PaymentFailed").
		CorrelateBy("paymentId").
		BindCheckpoint(eng, decide, emit)

	ev := procman.EventEnvelope{
		EventID:        "ev-1",
		EventType:      "PaymentFailed",
		GlobalPosition: 9,
		StreamID:       "s-1",
		Payload:        map[string]any{"paymentId": "pay-7"},
	}
	instanceID := sub.InstanceID(ev)
	args := sub.ArgumentBuilder(ev, instanceID)

	if err := sub.Handler(ctx, args); err != nil {
		t.Fatalf("handler must absorb all outcomes, got %v", err)
	}

	if len(emitted) != 1 || emitted[0].CommandType != "RefundPayment" {
		t.Fatalf("unexpected emissions: %+v", emitted)
	}

	st, err := procman.GetState(ctx, eng, "payment-recovery", "pay-7")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if st.Status != procman.StatusCompleted || st.LastGlobalPosition != 9 {
		t.Fatalf("unexpected state: %+v", st)
	}
}
