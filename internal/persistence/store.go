package persistence

import (
	"context"
	"errors"

	"github.com/jmattila/procman/pkg/api"
)

// ErrStateNotFound is returned when a process-manager state record is not
// found.
var ErrStateNotFound = errors.New("process manager state not found")

// CreateOptions carries the fields set once at instance creation and never
// mutated afterwards.
type CreateOptions struct {
	TriggerEventID string
	CorrelationID  string
}

// StatePatch is a partial update of a state record. Nil fields are left
// untouched. Counter fields carry absolute values; the engine computes the
// increments before writing.
type StatePatch struct {
	Status             *api.Status
	LastGlobalPosition *int64
	CommandsEmitted    *int64
	CommandsFailed     *int64
	ErrorMessage       *string

	// CustomState replaces the opaque payload when non-nil.
	CustomState any
}

// StateFilter is used to select states from the store.
// Empty fields mean "no filter".
type StateFilter struct {
	ProcessManagerName string
	Status             api.Status
}

// StateStore handles storage of process-manager instance states.
//
// Each call is independently durable; the store is never asked to compose
// multiple calls into one transaction. The partial-failure states this
// leaves reachable (an instance stuck at PROCESSING with its old watermark)
// are recovered by the engine's idempotency check on redelivery.
type StateStore interface {
	// LoadState returns the state for one instance, or ErrStateNotFound.
	LoadState(ctx context.Context, pmName, instanceID string) (*api.ProcessManagerState, error)

	// LoadOrCreateState returns the existing state or creates a fresh one
	// (StatusIdle, watermark at its initial sentinel). It must be
	// idempotent under concurrent calls for the same key: exactly one
	// record is created, and every caller sees it.
	LoadOrCreateState(ctx context.Context, pmName, instanceID string, opts CreateOptions) (*api.ProcessManagerState, error)

	// UpdateState applies a partial patch, bumps StateVersion and
	// LastUpdatedAt, and returns ErrStateNotFound for unknown instances.
	UpdateState(ctx context.Context, pmName, instanceID string, patch StatePatch) error

	// ListStates returns states matching the filter.
	ListStates(ctx context.Context, filter StateFilter) ([]*api.ProcessManagerState, error)
}

// DeadLetterStore is the durable sink for failed processing attempts.
type DeadLetterStore interface {
	RecordDeadLetter(ctx context.Context, dl api.DeadLetter) error

	// ListDeadLetters returns the dead letters for one instance, oldest
	// first.
	ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]api.DeadLetter, error)
}

// Persistence bundles the stores an engine needs.
type Persistence struct {
	States      StateStore
	DeadLetters DeadLetterStore
}
