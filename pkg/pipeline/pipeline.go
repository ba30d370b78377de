// Package pipeline defines the shared contracts of the tenant-provisioning
// pipeline: the work queue, the work item wire format, and the Observer
// used for logging and metrics.
//
// Queue implementations live in internal/queue; the Dispatcher and Worker
// packages are written against the interfaces here so backends can be
// swapped without touching pipeline logic.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxBatchSize is the largest number of entries a single SendBatch call
// accepts, matching common queue batch limits.
const MaxBatchSize = 10

// Message is one queued work item as delivered to a worker.
//
// ID is the dispatch ID: minted by the queue when the entry is accepted,
// stable across redeliveries, never reused. ReceiveCount is the approximate
// number of times this message has been delivered, including the current
// delivery.
type Message struct {
	ID           string
	Body         []byte
	ReceiveCount int
}

// BatchEntry is one entry of a SendBatch call. ID is batch-local and
// caller-assigned; it only exists so failures can be reported per entry.
type BatchEntry struct {
	ID   string
	Body []byte
}

// SentEntry reports a successfully accepted batch entry and the dispatch ID
// the queue minted for it.
type SentEntry struct {
	ID        string
	MessageID string
}

// FailedEntry reports a batch entry the queue could not accept.
type FailedEntry struct {
	ID      string
	Code    string
	Message string
}

// BatchResult is the per-entry outcome of a SendBatch call. A batch is
// accepted partially: Failed entries are reported, not raised.
type BatchResult struct {
	Sent   []SentEntry
	Failed []FailedEntry
}

// Queue is an at-least-once work queue with visibility-timeout redelivery.
//
// Receive blocks until at least one message is available or ctx is done,
// and returns up to max messages. A received message becomes invisible for
// the given visibility window; unless Delete is called before the window
// lapses, it is redelivered with an incremented ReceiveCount. Messages
// whose receive count exceeds the queue's configured maximum are moved to
// the dead-letter store instead of being redelivered.
type Queue interface {
	SendBatch(ctx context.Context, entries []BatchEntry) (BatchResult, error)
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, id string) error

	// DeadLetters returns messages that exhausted their receive budget.
	DeadLetters(ctx context.Context) ([]Message, error)

	// Len returns the approximate number of visible messages.
	Len() int
}

// WorkItem is the decoded form of a queued message.
type WorkItem struct {
	DispatchID string
	TenantID   string

	// Payload carries the opaque per-tenant input, e.g. the infrastructure
	// program input. The pipeline never inspects it.
	Payload json.RawMessage
}

// EncodeBody builds the message body for a work item: a single JSON object
// with the tenant ID merged into the opaque payload fields.
func EncodeBody(tenantID string, payload json.RawMessage) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("pipeline: payload must be a JSON object: %w", err)
		}
	}
	if _, ok := fields["tenantId"]; ok {
		return nil, fmt.Errorf("pipeline: payload must not carry its own tenantId")
	}
	id, err := json.Marshal(tenantID)
	if err != nil {
		return nil, err
	}
	fields["tenantId"] = id
	return json.Marshal(fields)
}

// DecodeBody parses a delivered message back into a WorkItem, splitting the
// tenant ID out of the flattened body.
func DecodeBody(msg Message) (WorkItem, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(msg.Body, &fields); err != nil {
		return WorkItem{}, fmt.Errorf("pipeline: decode body: %w", err)
	}

	raw, ok := fields["tenantId"]
	if !ok {
		return WorkItem{}, fmt.Errorf("pipeline: message %s has no tenantId", msg.ID)
	}
	var tenantID string
	if err := json.Unmarshal(raw, &tenantID); err != nil {
		return WorkItem{}, fmt.Errorf("pipeline: decode tenantId: %w", err)
	}
	delete(fields, "tenantId")

	payload, err := json.Marshal(fields)
	if err != nil {
		return WorkItem{}, err
	}

	return WorkItem{
		DispatchID: msg.ID,
		TenantID:   tenantID,
		Payload:    payload,
	}, nil
}
