package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmattila/procman/internal/persistence"
	"github.com/jmattila/procman/pkg/api"
)

// engineImpl runs the checkpoint protocol over a state store and a
// dead-letter store. It performs no locking of its own: the delivery layer
// guarantees that events for one instance are never concurrently in flight.
type engineImpl struct {
	states      persistence.StateStore
	deadLetters persistence.DeadLetterStore
	observer    api.Observer
	logger      *slog.Logger
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
	Logger      *slog.Logger
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		States:      mem,
		DeadLetters: mem,
	})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{States: mem, DeadLetters: mem},
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{
		States:      store,
		DeadLetters: store,
	}), nil
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{States: store, DeadLetters: store},
		Observer:    obs,
	}), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{
		States:      store,
		DeadLetters: store,
	}), nil
}

func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{States: store, DeadLetters: store},
		Observer:    obs,
	}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
// A nil Observer becomes a no-op; a nil Logger discards everything, so the
// absence of logging never changes behavior.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &engineImpl{
		states:      cfg.Persistence.States,
		deadLetters: cfg.Persistence.DeadLetters,
		observer:    obs,
		logger:      logger,
	}
}

// NewEngine returns an Engine over the given stores with default observer and
// logger.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) ProcessCheckpoint(ctx context.Context, pmName, instanceID string, ev api.EventEnvelope, process api.ProcessingFunc, emit api.EmitFunc) api.CheckpointResult {
	start := time.Now()
	e.observer.OnCheckpointStart(ctx, pmName, instanceID, ev.GlobalPosition)

	// A negative position would silently satisfy the watermark comparison
	// below, so it is rejected before any storage access.
	if ev.GlobalPosition < 0 {
		err := fmt.Errorf("invalid globalPosition %d for event %s: must be >= 0", ev.GlobalPosition, ev.EventID)
		e.observer.OnCheckpointFailed(ctx, pmName, instanceID, ev.GlobalPosition, err)
		return api.Failed(err)
	}

	state, err := e.states.LoadOrCreateState(ctx, pmName, instanceID, persistence.CreateOptions{
		TriggerEventID: ev.EventID,
		CorrelationID:  ev.CorrelationID,
	})
	if err != nil {
		e.observer.OnCheckpointFailed(ctx, pmName, instanceID, ev.GlobalPosition, err)
		return api.Failed(err)
	}

	// A checkpoint only counts as absorbed once the instance reached a
	// stable status with the position recorded. PROCESSING and FAILED mean
	// the previous attempt never emitted durably, so the same position must
	// be allowed through again.
	incomplete := state.Status == api.StatusProcessing || state.Status == api.StatusFailed
	if ev.GlobalPosition <= state.LastGlobalPosition && !incomplete {
		e.observer.OnCheckpointSkipped(ctx, pmName, instanceID, ev.GlobalPosition, api.SkipAlreadyProcessed)
		return api.Skipped(api.SkipAlreadyProcessed)
	}

	if state.Status == api.StatusCompleted {
		e.observer.OnCheckpointSkipped(ctx, pmName, instanceID, ev.GlobalPosition, api.SkipTerminalState)
		return api.Skipped(api.SkipTerminalState)
	}

	next, already, err := startProcessing(state.Status)
	if err != nil {
		e.logger.Warn("checkpoint_invalid_transition",
			slog.String("process_manager", pmName),
			slog.String("instance_id", instanceID),
			slog.String("status", string(state.Status)),
			slog.Any("error", err),
		)
		e.observer.OnCheckpointFailed(ctx, pmName, instanceID, ev.GlobalPosition, err)
		return api.Failed(err)
	}
	if !already {
		// The watermark is deliberately not written here; it only ever
		// advances in the finalize write. A crash after this update
		// leaves the instance at PROCESSING with the old watermark,
		// which the idempotency check above classifies as incomplete.
		if err := e.states.UpdateState(ctx, pmName, instanceID, persistence.StatePatch{Status: &next}); err != nil {
			e.observer.OnCheckpointFailed(ctx, pmName, instanceID, ev.GlobalPosition, err)
			return api.Failed(err)
		}
		state.Status = next
	}

	commands, err := process(ctx, state)
	if err != nil {
		return e.failCheckpoint(ctx, state, ev, err, nil, "processing function failed")
	}

	if len(commands) > 0 {
		for i := range commands {
			if commands[i].CorrelationID == "" {
				commands[i].CorrelationID = ev.CorrelationID
			}
			if commands[i].CausationID == "" {
				commands[i].CausationID = ev.EventID
			}
		}
		if err := emit(ctx, commands); err != nil {
			return e.failCheckpoint(ctx, state, ev, err, commands, "command emission failed")
		}
	}

	completed := api.StatusCompleted
	position := ev.GlobalPosition
	emitted := state.CommandsEmitted + int64(len(commands))
	empty := ""
	if err := e.states.UpdateState(ctx, pmName, instanceID, persistence.StatePatch{
		Status:             &completed,
		LastGlobalPosition: &position,
		CommandsEmitted:    &emitted,
		ErrorMessage:       &empty,
	}); err != nil {
		e.observer.OnCheckpointFailed(ctx, pmName, instanceID, ev.GlobalPosition, err)
		return api.Failed(err)
	}

	commandTypes := make([]string, len(commands))
	for i, c := range commands {
		commandTypes[i] = c.CommandType
	}

	e.observer.OnCheckpointProcessed(ctx, pmName, instanceID, ev.GlobalPosition, commandTypes, time.Since(start))
	return api.Processed(commandTypes)
}

// failCheckpoint records a processing or emission failure: the instance is
// moved to FAILED with the error message, the failure counter advances, and a
// dead letter is written. The watermark is left untouched so a redelivery of
// the same position re-enters the idempotency check as incomplete.
func (e *engineImpl) failCheckpoint(ctx context.Context, state *api.ProcessManagerState, ev api.EventEnvelope, cause error, commands []api.EmittedCommand, stage string) api.CheckpointResult {
	failed := api.StatusFailed
	msg := cause.Error()
	failures := state.CommandsFailed + 1

	if err := e.states.UpdateState(ctx, state.ProcessManagerName, state.InstanceID, persistence.StatePatch{
		Status:         &failed,
		ErrorMessage:   &msg,
		CommandsFailed: &failures,
	}); err != nil {
		e.logger.Error("checkpoint_failure_write_failed",
			slog.String("process_manager", state.ProcessManagerName),
			slog.String("instance_id", state.InstanceID),
			slog.Any("error", err),
		)
	}

	dl := api.DeadLetter{
		ID:                 uuid.NewString(),
		ProcessManagerName: state.ProcessManagerName,
		InstanceID:         state.InstanceID,
		Error:              msg,
		AttemptCount:       int(failures),
		EventID:            ev.EventID,
		EventType:          ev.EventType,
		GlobalPosition:     ev.GlobalPosition,
		CorrelationID:      ev.CorrelationID,
		RecordedAt:         time.Now().UTC(),
	}
	if len(commands) > 0 {
		// Emission failures keep the first failed command for diagnostics.
		dl.CommandType = commands[0].CommandType
		dl.CommandPayload = commands[0].Payload
	}

	if err := e.deadLetters.RecordDeadLetter(ctx, dl); err != nil {
		e.logger.Error("dead_letter_write_failed",
			slog.String("process_manager", state.ProcessManagerName),
			slog.String("instance_id", state.InstanceID),
			slog.Any("error", err),
		)
	} else {
		e.observer.OnDeadLetter(ctx, dl)
	}

	e.logger.Error("checkpoint_failed",
		slog.String("process_manager", state.ProcessManagerName),
		slog.String("instance_id", state.InstanceID),
		slog.String("stage", stage),
		slog.Int64("global_position", ev.GlobalPosition),
		slog.Any("error", cause),
	)
	e.observer.OnCheckpointFailed(ctx, state.ProcessManagerName, state.InstanceID, ev.GlobalPosition, cause)

	return api.Failed(cause)
}

func (e *engineImpl) GetState(ctx context.Context, pmName, instanceID string) (*api.ProcessManagerState, error) {
	st, err := e.states.LoadState(ctx, pmName, instanceID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (e *engineImpl) ListStates(ctx context.Context, opts api.StateListOptions) ([]*api.ProcessManagerState, error) {
	return e.states.ListStates(ctx, persistence.StateFilter{
		ProcessManagerName: opts.ProcessManagerName,
		Status:             opts.Status,
	})
}

func (e *engineImpl) ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]api.DeadLetter, error) {
	return e.deadLetters.ListDeadLetters(ctx, pmName, instanceID)
}
