package procman

import (
	"context"
	"database/sql"

	"github.com/jmattila/procman/internal/engine"
	"github.com/jmattila/procman/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	ProcessManagerState  = api.ProcessManagerState
	Status               = api.Status
	EmittedCommand       = api.EmittedCommand
	CorrelationStrategy  = api.CorrelationStrategy
	Definition           = api.Definition
	StateListOptions     = api.StateListOptions
	DeadLetter           = api.DeadLetter
	EventEnvelope        = api.EventEnvelope
	HandlerArgs          = api.HandlerArgs
	HandlerFunc          = api.HandlerFunc
	EventFilter          = api.EventFilter
	Subscription         = api.Subscription
	CheckpointResult     = api.CheckpointResult
	ResultKind           = api.ResultKind
	SkipReason           = api.SkipReason
	ProcessingFunc       = api.ProcessingFunc
	EmitFunc             = api.EmitFunc
	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	LoggingObserver      = api.LoggingObserver
	CompositeObserver    = api.CompositeObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusIdle       = api.StatusIdle
	StatusProcessing = api.StatusProcessing
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed

	InitialPosition = api.InitialPosition
)

// Re-export result shapes and skip reasons.

const (
	ResultProcessed = api.ResultProcessed
	ResultSkipped   = api.ResultSkipped
	ResultFailed    = api.ResultFailed

	SkipAlreadyProcessed = api.SkipAlreadyProcessed
	SkipTerminalState    = api.SkipTerminalState
	SkipNotSubscribed    = api.SkipNotSubscribed
)

// Re-export subscription priorities.

const (
	PriorityProjection     = api.PriorityProjection
	PriorityProcessManager = api.PriorityProcessManager
	PrioritySaga           = api.PrioritySaga
)

// Result constructors.

var (
	Processed = api.Processed
	Skipped   = api.Skipped
	Failed    = api.Failed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists process-manager state and
// dead letters in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that persists state in PostgreSQL.
// The caller supplies an *sql.DB opened with a PostgreSQL driver.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// GetState fetches the state record for one instance.
func GetState(ctx context.Context, eng Engine, pmName, instanceID string) (*ProcessManagerState, error) {
	return eng.GetState(ctx, pmName, instanceID)
}

// ListStates lists instance states according to the given options.
func ListStates(ctx context.Context, eng Engine, opts StateListOptions) ([]*ProcessManagerState, error) {
	return eng.ListStates(ctx, opts)
}

// ListDeadLetters lists the recorded failed attempts for one instance.
func ListDeadLetters(ctx context.Context, eng Engine, pmName, instanceID string) ([]DeadLetter, error) {
	return eng.ListDeadLetters(ctx, pmName, instanceID)
}

// HandleEvent runs one event through a process-manager definition end to
// end: subscription filter, instance resolution, then the checkpoint
// protocol. Events whose type the definition does not subscribe to are
// reported as skipped rather than silently dropped.
func HandleEvent(ctx context.Context, eng Engine, def Definition, ev EventEnvelope, process ProcessingFunc, emit EmitFunc) CheckpointResult {
	if !def.Subscribed(ev.EventType) {
		return Skipped(SkipNotSubscribed)
	}
	instanceID := ResolveInstanceID(ev, def.Correlation)
	return eng.ProcessCheckpoint(ctx, def.Name, instanceID, ev, process, emit)
}
