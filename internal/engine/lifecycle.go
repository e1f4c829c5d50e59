package engine

import (
	"errors"
	"fmt"

	"github.com/jmattila/procman/pkg/api"
)

// TransitionSignal is a named lifecycle transition. Statuses are never
// written arbitrarily; every status change is either a signal applied here or
// the engine's own completed/failed outcome writes.
type TransitionSignal string

const (
	// SignalStart moves an idle instance into processing.
	SignalStart TransitionSignal = "START"

	// SignalRetry moves a failed instance back into processing.
	SignalRetry TransitionSignal = "RETRY"
)

// ErrInvalidTransition reports a (status, signal) pair with no legal target.
// This indicates a logic or configuration defect, not a transient fault.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition maps (current status, signal) to the next status, or rejects.
// It is a pure function; persisting the result is the caller's business.
func Transition(current api.Status, sig TransitionSignal) (api.Status, error) {
	switch sig {
	case SignalStart:
		if current == api.StatusIdle {
			return api.StatusProcessing, nil
		}
	case SignalRetry:
		if current == api.StatusFailed {
			return api.StatusProcessing, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, sig, current)
}

// startProcessing computes how to bring an instance into StatusProcessing.
// A status that is already StatusProcessing is treated as satisfied without a
// new transition, so a crashed attempt can be retried.
func startProcessing(current api.Status) (next api.Status, already bool, err error) {
	if current == api.StatusProcessing {
		return api.StatusProcessing, true, nil
	}

	sig := SignalStart
	if current == api.StatusFailed {
		sig = SignalRetry
	}

	next, err = Transition(current, sig)
	return next, false, err
}
