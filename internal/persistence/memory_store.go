package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/jmattila/procman/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of StateStore and
// DeadLetterStore backed by maps. It is intended for tests and single-process
// development runs; nothing survives a restart.
type InMemoryStore struct {
	mu          sync.RWMutex
	states      map[stateKey]*api.ProcessManagerState
	deadLetters map[stateKey][]api.DeadLetter
}

type stateKey struct {
	pmName     string
	instanceID string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:      make(map[stateKey]*api.ProcessManagerState),
		deadLetters: make(map[stateKey][]api.DeadLetter),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ StateStore = (*InMemoryStore)(nil)

var _ DeadLetterStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) LoadState(ctx context.Context, pmName, instanceID string) (*api.ProcessManagerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[stateKey{pmName, instanceID}]
	if !ok {
		return nil, ErrStateNotFound
	}

	copied := *st
	return &copied, nil
}

func (s *InMemoryStore) LoadOrCreateState(ctx context.Context, pmName, instanceID string, opts CreateOptions) (*api.ProcessManagerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{pmName, instanceID}
	if st, ok := s.states[key]; ok {
		copied := *st
		return &copied, nil
	}

	now := time.Now().UTC()
	st := &api.ProcessManagerState{
		ProcessManagerName: pmName,
		InstanceID:         instanceID,
		Status:             api.StatusIdle,
		LastGlobalPosition: api.InitialPosition,
		StateVersion:       1,
		CreatedAt:          now,
		LastUpdatedAt:      now,
		TriggerEventID:     opts.TriggerEventID,
		CorrelationID:      opts.CorrelationID,
	}
	s.states[key] = st

	copied := *st
	return &copied, nil
}

func (s *InMemoryStore) UpdateState(ctx context.Context, pmName, instanceID string, patch StatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stateKey{pmName, instanceID}]
	if !ok {
		return ErrStateNotFound
	}

	if patch.Status != nil {
		st.Status = *patch.Status
	}
	if patch.LastGlobalPosition != nil {
		st.LastGlobalPosition = *patch.LastGlobalPosition
	}
	if patch.CommandsEmitted != nil {
		st.CommandsEmitted = *patch.CommandsEmitted
	}
	if patch.CommandsFailed != nil {
		st.CommandsFailed = *patch.CommandsFailed
	}
	if patch.ErrorMessage != nil {
		st.ErrorMessage = *patch.ErrorMessage
	}
	if patch.CustomState != nil {
		st.CustomState = patch.CustomState
	}

	st.StateVersion++
	st.LastUpdatedAt = time.Now().UTC()

	return nil
}

func (s *InMemoryStore) ListStates(ctx context.Context, filter StateFilter) ([]*api.ProcessManagerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.ProcessManagerState

	for _, st := range s.states {
		if filter.ProcessManagerName != "" && st.ProcessManagerName != filter.ProcessManagerName {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		copied := *st
		result = append(result, &copied)
	}

	return result, nil
}

func (s *InMemoryStore) RecordDeadLetter(ctx context.Context, dl api.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{dl.ProcessManagerName, dl.InstanceID}
	s.deadLetters[key] = append(s.deadLetters[key], dl)
	return nil
}

func (s *InMemoryStore) ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]api.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.deadLetters[stateKey{pmName, instanceID}]
	result := make([]api.DeadLetter, len(stored))
	copy(result, stored)
	return result, nil
}
