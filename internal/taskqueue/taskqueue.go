package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmattila/procman/pkg/api"
)

// Command is one outbound command captured by the queue for downstream
// delivery.
type Command struct {
	ID          string
	CommandType string
	Payload     any

	CorrelationID string
	CausationID   string

	// PartitionKey asks downstream consumers to serialize this command
	// relative to others sharing the key.
	PartitionKey string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this command should be eligible for
	// processing. Zero value means "immediately".
	NotBefore time.Time
}

// Queue is a simple async command queue interface.
type Queue interface {
	// Enqueue adds a command to the queue. It should respect ctx for
	// cancellation.
	Enqueue(ctx context.Context, c Command) error

	// Dequeue removes and returns the next command, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Command, error)

	// Len returns the approximate number of commands queued.
	Len() int
}

// NewQueueEmitter adapts a Queue to the engine's emission contract. Every
// emitted command gets a fresh id; correlation, causation and partition key
// carry over unchanged.
func NewQueueEmitter(q Queue) api.EmitFunc {
	return func(ctx context.Context, commands []api.EmittedCommand) error {
		now := time.Now()
		for _, cmd := range commands {
			c := Command{
				ID:            uuid.NewString(),
				CommandType:   cmd.CommandType,
				Payload:       cmd.Payload,
				CorrelationID: cmd.CorrelationID,
				CausationID:   cmd.CausationID,
				PartitionKey:  cmd.PartitionKey,
				EnqueuedAt:    now,
			}
			if err := q.Enqueue(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}
}
