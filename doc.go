// Package procman provides an idempotent checkpoint engine for process
// managers: stateful reactors that consume one domain event at a time and may
// emit zero or more outbound commands.
//
// Procman is designed for event-sourced backends where events are delivered
// at least once and possibly out of order. It guarantees that repeated or
// reordered delivery of the same event never causes duplicate commands or
// corrupted state, without distributed transactions and without owning the
// event bus.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Binder
//  3. Dispatcher
//  4. ProcessingFunc / EmitFunc
//  5. LocalRunner
//
// # Engine
//
// The Engine runs the checkpoint protocol for a single event delivery:
// load or create the instance state, check the idempotency watermark, check
// for a terminal state, move the lifecycle to processing, invoke the
// caller's processing function, emit the resulting commands, and finally
// record the completed checkpoint. Each instance tracks the global position
// of the last event that fully completed; the watermark only advances on
// full success, so a crash mid-flight is always recoverable by redelivery.
//
// Failures never escape the engine as errors. Every invocation returns one
// of exactly three result shapes — processed, skipped, or failed — and
// failed attempts are recorded as dead letters for operator follow-up.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//
// Each storage call is independently durable; the protocol deliberately does
// not require cross-call transactions.
//
// # Binder
//
// The Binder adapts a process-manager definition (name, subscribed event
// types, correlation strategy) into the subscription shape a delivery layer
// consumes: a stable name, an event-type filter, an argument builder, and a
// partition-key builder that serializes all events for one instance:
//
//	sub := procman.Define("payment-recovery").
//	    InContext("billing").
//	    On("PaymentFailed").
//	    CorrelateBy("paymentId").
//	    BindCheckpoint(engine, decide, emitter)
//
// # Dispatcher
//
// Package dispatch ships an in-process delivery layer that honors the
// subscription contract: events are filtered by type and delivered strictly
// in order per partition key. Production systems typically replace it with
// an external event bus providing the same guarantee.
//
// # ProcessingFunc / EmitFunc
//
// The caller supplies both halves of the business logic: a ProcessingFunc
// that decides which commands to emit for the loaded state, and an EmitFunc
// that delivers them (the built-in command queue is the default target).
// The engine never decides what to emit and never auto-retries; retries
// happen only when the caller redelivers an event.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine, command queue, and dispatcher
// into a single process-local helper useful for development and unit
// testing. It is intentionally not crash-durable.
//
// For durable single-node deployments, NewSQLiteBundle wires an engine and a
// durable command queue over one SQLite database.
package procman
