package procman

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmattila/procman/internal/engine"
	"github.com/jmattila/procman/pkg/api"
)

// ResolveInstanceID derives the instance id for an event: the correlation
// property's string value when the strategy names one and the payload carries
// it, otherwise the event's stream id (with a warning on fallback).
func ResolveInstanceID(ev EventEnvelope, strategy *CorrelationStrategy) string {
	return engine.ResolveInstanceID(ev, strategy, slog.Default())
}

// Binder adapts a process-manager definition into the subscription shape the
// delivery layer consumes:
//
//	sub := procman.Define("payment-recovery").
//	    InContext("billing").
//	    On("PaymentFailed", "PaymentExpired").
//	    CorrelateBy("paymentId").
//	    BindCheckpoint(eng, decideCommands, emitter)
//
//	_ = dispatcher.Subscribe(sub)
type Binder struct {
	def       Definition
	priority  int
	logger    *slog.Logger
	transform func(ev EventEnvelope, instanceID string) HandlerArgs
	partition func(ev EventEnvelope, instanceID string) string
}

// Define creates a binder for the process manager with the given name.
func Define(name string) *Binder {
	if name == "" {
		panic("procman: process manager name must not be empty")
	}
	return &Binder{
		def:      Definition{Name: name},
		priority: PriorityProcessManager,
	}
}

// Definition returns the accumulated definition.
// Typically used when interacting with lower-level APIs.
func (b *Binder) Definition() Definition {
	return b.def
}

// InContext sets the bounded-context name used in the subscription name.
func (b *Binder) InContext(context string) *Binder {
	b.def.BoundedContext = context
	return b
}

// On appends the event types the process manager subscribes to.
func (b *Binder) On(eventTypes ...string) *Binder {
	b.def.EventTypes = append(b.def.EventTypes, eventTypes...)
	return b
}

// CorrelateBy derives instance ids from the given payload property instead
// of the event's stream id.
func (b *Binder) CorrelateBy(property string) *Binder {
	b.def.Correlation = &CorrelationStrategy{CorrelationProperty: property}
	return b
}

// WithPriority overrides the default process-manager priority.
func (b *Binder) WithPriority(priority int) *Binder {
	b.priority = priority
	return b
}

// WithLogger sets the logger used for correlation-fallback warnings.
// A nil logger discards them.
func (b *Binder) WithLogger(logger *slog.Logger) *Binder {
	b.logger = logger
	return b
}

// WithArgumentTransformer replaces the default handler-argument assembly.
// The transformer receives the envelope and the already-resolved instance id.
func (b *Binder) WithArgumentTransformer(fn func(ev EventEnvelope, instanceID string) HandlerArgs) *Binder {
	b.transform = fn
	return b
}

// WithPartitionKey replaces the default partition key (the resolved instance
// id).
func (b *Binder) WithPartitionKey(fn func(ev EventEnvelope, instanceID string) string) *Binder {
	b.partition = fn
	return b
}

// SubscriptionName returns the stable subscription name:
// "pm:<context>:<name>", or "pm:<name>" when no bounded context is set.
func (b *Binder) SubscriptionName() string {
	if b.def.BoundedContext != "" {
		return fmt.Sprintf("pm:%s:%s", b.def.BoundedContext, b.def.Name)
	}
	return fmt.Sprintf("pm:%s", b.def.Name)
}

// Bind produces the subscription for an arbitrary handler. The delivery
// layer resolves the instance id once per event via Subscription.InstanceID
// and threads it through both builders, so correlation resolution happens at
// most once per delivered event.
func (b *Binder) Bind(handler HandlerFunc) Subscription {
	if handler == nil {
		panic(fmt.Sprintf("procman: process manager %q has nil handler", b.def.Name))
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	def := b.def

	transform := b.transform
	if transform == nil {
		transform = func(ev EventEnvelope, instanceID string) HandlerArgs {
			return HandlerArgs{
				EventID:        ev.EventID,
				EventType:      ev.EventType,
				GlobalPosition: ev.GlobalPosition,
				CorrelationID:  ev.CorrelationID,
				StreamType:     ev.StreamType,
				StreamID:       ev.StreamID,
				Payload:        ev.Payload,
				RecordedAt:     ev.RecordedAt,
				Category:       ev.Category,
				BoundedContext: def.BoundedContext,
				InstanceID:     instanceID,
			}
		}
	}

	partition := b.partition
	if partition == nil {
		partition = func(ev EventEnvelope, instanceID string) string {
			return instanceID
		}
	}

	return Subscription{
		Name:     b.SubscriptionName(),
		Filter:   EventFilter{EventTypes: def.EventTypes},
		Handler:  handler,
		Priority: b.priority,
		InstanceID: func(ev EventEnvelope) string {
			return engine.ResolveInstanceID(ev, def.Correlation, logger)
		},
		ArgumentBuilder:     transform,
		PartitionKeyBuilder: partition,
	}
}

// BindCheckpoint produces a subscription whose handler runs the checkpoint
// protocol on the given engine with the supplied processing and emission
// functions. Handler errors never occur; every outcome is absorbed into the
// engine's result and surfaced through the engine's observer.
func (b *Binder) BindCheckpoint(eng Engine, process ProcessingFunc, emit EmitFunc) Subscription {
	def := b.def
	return b.Bind(func(ctx context.Context, args HandlerArgs) error {
		ev := api.EventEnvelope{
			EventID:        args.EventID,
			EventType:      args.EventType,
			GlobalPosition: args.GlobalPosition,
			StreamType:     args.StreamType,
			StreamID:       args.StreamID,
			Category:       args.Category,
			CorrelationID:  args.CorrelationID,
			Payload:        args.Payload,
			RecordedAt:     args.RecordedAt,
		}
		eng.ProcessCheckpoint(ctx, def.Name, args.InstanceID, ev, process, emit)
		return nil
	})
}
