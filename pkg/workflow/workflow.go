// Package workflow drives the tenant setup flow: a client-resident state
// machine that dispatches provisioning work, holds a realtime subscription
// on the dispatch's event channel, and advances on correlated outcome
// events.
package workflow

import (
	"fmt"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
)

// State names one node of the setup automaton.
type State string

const (
	StateRegister          State = "register"
	StateWaitForInfra      State = "waitForInfra"
	StateHealthcheck       State = "healthcheck"
	StateDetermineHealth   State = "determineHealth"
	StateWaitForGoodHealth State = "waitForGoodHealth"
	StateInitialize        State = "initialize"
	StateWaitForSync       State = "waitForSync"
	StateActivate          State = "activate"
	StateComplete          State = "complete"
	StateFailure           State = "failure"
)

// Context is the machine's mutable memory. DispatchID correlates inbound
// events to the flow's current dispatch; it changes when a new dispatch is
// issued and is never reused across retries.
type Context struct {
	TenantID   string
	DispatchID string

	// Healthy carries the last healthcheck verdict into determineHealth.
	Healthy bool

	// FailureStatus records the state that was active when the flow
	// failed. Empty unless the machine is in StateFailure.
	FailureStatus State
}

// NonExhaustiveStateError reports a state the transition table has no
// behavior for. It is a loud fault: an incomplete table is a bug, not a
// condition to skip past.
type NonExhaustiveStateError struct {
	State State
}

func (e *NonExhaustiveStateError) Error() string {
	return fmt.Sprintf("workflow: no transition defined for state %q", e.State)
}

// FailureError is returned by Run when the flow lands in StateFailure.
type FailureError struct {
	Status State
	Cause  error
}

func (e *FailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("workflow: flow failed during %s: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("workflow: flow failed during %s", e.Status)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// waitKinds maps each wait state to the event kind it correlates on. Any
// state outside this table is not a wait state.
var waitKinds = map[State]events.Kind{
	StateWaitForInfra: events.KindInfraProvisionResult,
	StateWaitForSync:  events.KindPapercutSyncResult,
}

// successors maps each wait state to where a terminal success leads.
var successors = map[State]State{
	StateWaitForInfra: StateHealthcheck,
	StateWaitForSync:  StateActivate,
}

// ApplyResult is the pure transition function for the wait states. Given
// the waiting state, the dispatch the flow is correlated to, and one
// inbound result, it returns the next state and whether a transition
// occurred.
//
// A result of the wrong kind or carrying a foreign dispatch id is ignored.
// A retry notice (failed but non-terminal) leaves the state unchanged. A
// terminal success advances; a terminal failure moves to StateFailure.
func ApplyResult(wait State, dispatchID string, res events.Result) (State, bool, error) {
	kind, ok := waitKinds[wait]
	if !ok {
		return wait, false, &NonExhaustiveStateError{State: wait}
	}
	if res.Kind() != kind {
		return wait, false, nil
	}
	if res.Correlation() != dispatchID {
		// Cross-dispatch isolation: someone else's outcome.
		return wait, false, nil
	}
	if res.Succeeded() {
		return successors[wait], true, nil
	}
	if !res.Terminal() {
		return wait, false, nil
	}
	return StateFailure, true, nil
}
