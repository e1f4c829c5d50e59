package api

import "context"

// ProcessingFunc decides which commands a process manager emits for the
// loaded state. It is supplied by the caller and may fail; the engine records
// the failure and never auto-retries.
type ProcessingFunc func(ctx context.Context, state *ProcessManagerState) ([]EmittedCommand, error)

// EmitFunc delivers emitted commands onward, typically into a durable
// command queue. It is invoked only when there is at least one command.
type EmitFunc func(ctx context.Context, commands []EmittedCommand) error

// Engine runs the checkpoint protocol over a state store and a dead-letter
// store. It assumes serialized delivery per instance: the caller must never
// have two events for the same (processManagerName, instanceID) in flight
// concurrently. Across different instances, arbitrary parallelism is safe.
type Engine interface {
	// ProcessCheckpoint reacts to a single inbound event for one instance:
	// load-or-create state, idempotency check, terminal check, lifecycle
	// transition, processing, emission, finalize. Repeated or reordered
	// delivery of the same position never causes duplicate commands.
	//
	// All failures, including invalid input, are absorbed into the
	// returned CheckpointResult; ProcessCheckpoint never returns an error
	// to the caller.
	ProcessCheckpoint(ctx context.Context, pmName, instanceID string, ev EventEnvelope, process ProcessingFunc, emit EmitFunc) CheckpointResult

	// GetState looks up the state record for one instance.
	GetState(ctx context.Context, pmName, instanceID string) (*ProcessManagerState, error)

	// ListStates returns instance states matching the given options.
	// Zero-valued options return all instances.
	ListStates(ctx context.Context, opts StateListOptions) ([]*ProcessManagerState, error)

	// ListDeadLetters returns the recorded failed attempts for one
	// instance, oldest first.
	ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]DeadLetter, error)
}
