package api

import (
	"context"
	"time"
)

// EventEnvelope is one domain event as delivered by the event log.
// GlobalPosition is the externally assigned, globally ordered ordinal used as
// the idempotency watermark; this package consumes it but never assigns it.
type EventEnvelope struct {
	EventID        string
	EventType      string
	GlobalPosition int64
	StreamType     string
	StreamID       string
	Category       string
	CorrelationID  string
	Payload        map[string]any
	RecordedAt     time.Time
}

// HandlerArgs is the standard argument shape passed to subscription handlers.
// It is the envelope plus the resolved instance id and the bounded context of
// the owning process manager.
type HandlerArgs struct {
	EventID        string
	EventType      string
	GlobalPosition int64
	CorrelationID  string
	StreamType     string
	StreamID       string
	Payload        map[string]any
	RecordedAt     time.Time
	Category       string
	BoundedContext string
	InstanceID     string
}

// HandlerFunc handles one delivered event.
type HandlerFunc func(ctx context.Context, args HandlerArgs) error

// EventFilter selects which events a subscription receives.
type EventFilter struct {
	EventTypes []string
}

// Matches reports whether the filter admits the given event type.
// An empty filter admits everything.
func (f EventFilter) Matches(eventType string) bool {
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Subscription priorities. Lower values are delivered earlier. Process
// managers run after read-model projections and before long-running sagas;
// the ordering is documented here and enforced by the delivery layer, not by
// this package.
const (
	PriorityProjection     = 100
	PriorityProcessManager = 200
	PrioritySaga           = 300
)

// Subscription is the shape the delivery layer consumes: a stable name, an
// event-type filter, the handler, and the builders the delivery layer calls
// per event. The delivery layer resolves the instance id once per event and
// threads it through both builders.
type Subscription struct {
	Name     string
	Filter   EventFilter
	Handler  HandlerFunc
	Priority int

	// InstanceID resolves the process-manager instance id for an event.
	InstanceID func(ev EventEnvelope) string

	// ArgumentBuilder assembles the handler argument from the envelope and
	// the already-resolved instance id.
	ArgumentBuilder func(ev EventEnvelope, instanceID string) HandlerArgs

	// PartitionKeyBuilder computes the key the delivery layer serializes
	// on. Defaults to the resolved instance id.
	PartitionKeyBuilder func(ev EventEnvelope, instanceID string) string
}
