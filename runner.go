package procman

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmattila/procman/internal/taskqueue"
	"github.com/jmattila/procman/pkg/dispatch"
)

// LocalRunner bundles an in-memory Engine, an in-memory command queue, and a
// Dispatcher to provide a simple local delivery loop for development and
// debugging.
//
// Typical usage:
//
//	runner := procman.NewLocalRunner()
//	sub := procman.Define("order-fulfilment").
//	    On("OrderPlaced").
//	    BindCheckpoint(runner.Engine, decide, runner.Emitter())
//	_ = runner.Subscribe(sub)
//
//	_ = runner.Start(ctx)
//	_ = runner.Deliver(ctx, event)
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory checkpoint engine used by this runner.
	Engine Engine

	// Queue is the in-memory command queue emitted commands land in.
	Queue taskqueue.Queue

	// Dispatcher delivers events to subscriptions with per-instance
	// ordering.
	Dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a dispatcher with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithObserver(nil)
}

// NewLocalRunnerWithObserver is NewLocalRunner with an engine Observer.
func NewLocalRunnerWithObserver(obs Observer) *LocalRunner {
	var eng Engine
	if obs != nil {
		eng = NewInMemoryEngineWithObserver(obs)
	} else {
		eng = NewInMemoryEngine()
	}

	return &LocalRunner{
		Engine:     eng,
		Queue:      taskqueue.NewInMemoryQueue(1024),
		Dispatcher: dispatch.New(dispatch.Config{Logger: slog.Default()}),
	}
}

// Emitter returns an EmitFunc that enqueues commands on the runner's queue.
func (r *LocalRunner) Emitter() EmitFunc {
	return taskqueue.NewQueueEmitter(r.Queue)
}

// Subscribe registers a subscription with the runner's dispatcher.
func (r *LocalRunner) Subscribe(sub Subscription) error {
	return r.Dispatcher.Subscribe(sub)
}

// Start makes the runner accept deliveries.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.Dispatcher.Start(ctx); err != nil {
		return err
	}
	r.running = true
	return nil
}

// Deliver routes one event through the dispatcher.
func (r *LocalRunner) Deliver(ctx context.Context, ev EventEnvelope) error {
	return r.Dispatcher.Deliver(ctx, ev)
}

// Stop drains in-flight deliveries and shuts the dispatcher down.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.Dispatcher.Stop()
	r.running = false
}

// PendingCommands returns the number of commands waiting in the runner's
// queue.
func (r *LocalRunner) PendingCommands() int {
	return r.Queue.Len()
}

// NextCommand removes and returns the next queued command's type, payload
// and metadata, blocking until one is available or ctx is cancelled.
func (r *LocalRunner) NextCommand(ctx context.Context) (*QueuedCommand, error) {
	c, err := r.Queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &QueuedCommand{
		ID:            c.ID,
		CommandType:   c.CommandType,
		Payload:       c.Payload,
		CorrelationID: c.CorrelationID,
		CausationID:   c.CausationID,
		PartitionKey:  c.PartitionKey,
	}, nil
}

// QueuedCommand is a dequeued outbound command.
type QueuedCommand struct {
	ID            string
	CommandType   string
	Payload       any
	CorrelationID string
	CausationID   string
	PartitionKey  string
}
