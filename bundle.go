package procman

import (
	"database/sql"

	"github.com/jmattila/procman/internal/taskqueue"
)

// CheckpointBundle wires together an Engine and a durable command queue
// sharing one database, so that emitted commands survive a process restart
// alongside the state they were emitted for.
//
// For now, we only provide a SQLite-backed bundle.
type CheckpointBundle struct {
	Engine Engine

	// queue is kept unexported; the public API exposes it through
	// Emitter and PendingCommands.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + command queue combo backed by
// the provided *sql.DB. State records, dead letters, and queued commands are
// persisted in the same database, each with per-call durability.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:procman.db?_journal=WAL")
//	bundle, err := procman.NewSQLiteBundle(db)
//	sub := procman.Define("order-fulfilment").
//	    On("OrderPlaced").
//	    BindCheckpoint(bundle.Engine, decide, bundle.Emitter())
func NewSQLiteBundle(db *sql.DB) (*CheckpointBundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &CheckpointBundle{
		Engine: eng,
		queue:  q,
	}, nil
}

// NewSQLiteBundleWithObserver is NewSQLiteBundle with an engine Observer.
func NewSQLiteBundleWithObserver(db *sql.DB, obs Observer) (*CheckpointBundle, error) {
	eng, err := NewSQLiteEngineWithObserver(db, obs)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &CheckpointBundle{
		Engine: eng,
		queue:  q,
	}, nil
}

// Emitter returns an EmitFunc that enqueues commands on the bundle's durable
// queue.
func (b *CheckpointBundle) Emitter() EmitFunc {
	return taskqueue.NewQueueEmitter(b.queue)
}

// PendingCommands returns the number of commands waiting in the bundle's
// queue.
func (b *CheckpointBundle) PendingCommands() int {
	return b.queue.Len()
}
