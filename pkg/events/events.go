// Package events defines the application events carried over realtime
// channels: the outcomes published by workers and the notifications pushed
// to sync clients.
//
// The set of kinds is closed. Encode and Decode are the only supported
// codec; a payload with an unrecognized kind decodes to UnknownKindError so
// that an incomplete handler table fails loudly instead of being skipped.
package events

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindInfraProvisionResult Kind = "infra_provision_result"
	KindPapercutSyncResult   Kind = "papercut_sync_result"
	KindReplicachePoke       Kind = "replicache_poke"
)

// Event is the closed union of realtime event payloads.
type Event interface {
	Kind() Kind

	// sealed prevents implementations outside this package, keeping the
	// union exhaustively matchable.
	sealed()
}

// Result is implemented by terminal/retry-notice outcome events that
// correlate back to a dispatch.
type Result interface {
	Event

	// Correlation returns the dispatch ID the result refers to.
	Correlation() string

	// Terminal reports whether no further delivery attempt is expected to
	// change the outcome.
	Terminal() bool

	// Succeeded reports whether the unit of work completed.
	Succeeded() bool
}

// InfraProvisionResult reports the outcome of one tenant infrastructure
// provisioning attempt.
type InfraProvisionResult struct {
	Success    bool   `json:"success"`
	DispatchID string `json:"dispatchId"`
	Retrying   bool   `json:"retrying,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (*InfraProvisionResult) Kind() Kind { return KindInfraProvisionResult }
func (*InfraProvisionResult) sealed()    {}

func (e *InfraProvisionResult) Correlation() string { return e.DispatchID }
func (e *InfraProvisionResult) Terminal() bool      { return e.Success || !e.Retrying }
func (e *InfraProvisionResult) Succeeded() bool     { return e.Success }

// PapercutSyncResult reports the outcome of one PaperCut data
// synchronization attempt.
type PapercutSyncResult struct {
	Success    bool   `json:"success"`
	DispatchID string `json:"dispatchId"`
	Retrying   bool   `json:"retrying,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (*PapercutSyncResult) Kind() Kind { return KindPapercutSyncResult }
func (*PapercutSyncResult) sealed()    {}

func (e *PapercutSyncResult) Correlation() string { return e.DispatchID }
func (e *PapercutSyncResult) Terminal() bool      { return e.Success || !e.Retrying }
func (e *PapercutSyncResult) Succeeded() bool     { return e.Success }

// ReplicachePoke tells sync clients to pull; it carries no payload.
type ReplicachePoke struct{}

func (*ReplicachePoke) Kind() Kind { return KindReplicachePoke }
func (*ReplicachePoke) sealed()    {}

// UnknownKindError is returned by Decode for a payload whose kind is not in
// the union, and by Encode for a nil or foreign Event value.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("events: unknown event kind %q", string(e.Kind))
}

// Encode serializes an event to its wire form, a JSON object tagged with a
// "kind" field.
func Encode(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case *InfraProvisionResult:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*InfraProvisionResult
		}{KindInfraProvisionResult, ev})
	case *PapercutSyncResult:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*PapercutSyncResult
		}{KindPapercutSyncResult, ev})
	case *ReplicachePoke:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
		}{KindReplicachePoke})
	default:
		return nil, &UnknownKindError{}
	}
}

// Decode parses a wire payload back into its concrete event type.
func Decode(data []byte) (Event, error) {
	var tag struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("events: decode tag: %w", err)
	}

	switch tag.Kind {
	case KindInfraProvisionResult:
		var e InfraProvisionResult
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", tag.Kind, err)
		}
		return &e, nil
	case KindPapercutSyncResult:
		var e PapercutSyncResult
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", tag.Kind, err)
		}
		return &e, nil
	case KindReplicachePoke:
		return &ReplicachePoke{}, nil
	default:
		return nil, &UnknownKindError{Kind: tag.Kind}
	}
}
