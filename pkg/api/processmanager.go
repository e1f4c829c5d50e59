package api

import "time"

// Status represents the lifecycle state of a process-manager instance.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// InitialPosition is the watermark of a freshly created instance, before any
// event has fully completed for it. Every real global position is >= 0, so
// the first delivery always passes the idempotency check.
const InitialPosition int64 = -1

// ProcessManagerState is the durable record for one process-manager instance.
// The identity key is (ProcessManagerName, InstanceID); both are immutable
// after creation, as are TriggerEventID and CorrelationID.
type ProcessManagerState struct {
	ProcessManagerName string
	InstanceID         string
	Status             Status

	// LastGlobalPosition is the ordinal of the last event whose processing
	// fully completed, commands included. It only ever advances on full
	// success and is never partially updated.
	LastGlobalPosition int64

	CommandsEmitted int64
	CommandsFailed  int64

	// ErrorMessage holds the last failure description. Only meaningful
	// while Status is StatusFailed.
	ErrorMessage string

	// CustomState is an opaque payload for stateful process managers.
	// The engine round-trips it but never interprets it.
	CustomState any

	StateVersion  int64
	CreatedAt     time.Time
	LastUpdatedAt time.Time

	TriggerEventID string
	CorrelationID  string
}

// EmittedCommand is one outbound command produced by a processing function.
type EmittedCommand struct {
	CommandType string
	Payload     any

	// CorrelationID is inherited from the triggering event when left empty.
	CorrelationID string

	// CausationID is the id of the triggering event. Filled in by the
	// engine when left empty.
	CausationID string

	// PartitionKey, when set, asks downstream delivery to serialize this
	// command relative to others sharing the key.
	PartitionKey string
}

// CorrelationStrategy derives a process-manager instance id from a property
// of the event payload rather than from the event's stream id.
type CorrelationStrategy struct {
	CorrelationProperty string
}

// Definition describes a process manager: its name, the event types it
// subscribes to, and how instances are identified.
type Definition struct {
	Name           string
	BoundedContext string
	EventTypes     []string
	Correlation    *CorrelationStrategy
}

// Subscribed reports whether the definition subscribes to the given event
// type. An empty EventTypes list subscribes to nothing.
func (d Definition) Subscribed(eventType string) bool {
	for _, t := range d.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// StateListOptions controls how instance states are listed.
// Zero values mean "no filter" for that field.
type StateListOptions struct {
	ProcessManagerName string
	Status             Status
}

// DeadLetter is a durably recorded failed processing attempt, retained for
// operator inspection and replay.
type DeadLetter struct {
	ID                 string
	ProcessManagerName string
	InstanceID         string
	Error              string
	AttemptCount       int

	// Context of the triggering event.
	EventID        string
	EventType      string
	GlobalPosition int64
	CorrelationID  string

	// First failed command, present only for emission failures.
	CommandType    string
	CommandPayload any

	RecordedAt time.Time
}
