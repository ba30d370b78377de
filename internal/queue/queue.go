// Package queue provides the pipeline.Queue implementations: an in-memory
// queue for tests and local development, a SQLite queue for embedded
// durability, and a Redis queue for shared deployments.
//
// All backends share the same delivery contract: at-least-once,
// visibility-timeout redelivery, approximate receive counts, and a
// dead-letter store for messages that exhaust their receive budget.
package queue

import (
	"errors"
	"fmt"

	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

const (
	// DefaultMaxReceiveCount is the delivery budget before a message is
	// dead-lettered. It matches the worker's default retry limit so the last
	// permitted delivery is published as terminal.
	DefaultMaxReceiveCount = 3

	// maxBodyBytes is the largest accepted message body.
	maxBodyBytes = 256 * 1024
)

var (
	// ErrEmptyBatch is returned by SendBatch for a batch with no entries.
	ErrEmptyBatch = errors.New("queue: batch must not be empty")

	// ErrBatchTooLarge is returned by SendBatch when a batch exceeds
	// pipeline.MaxBatchSize entries.
	ErrBatchTooLarge = fmt.Errorf("queue: batch exceeds %d entries", pipeline.MaxBatchSize)
)

// checkBatch validates batch-level preconditions shared by all backends.
func checkBatch(entries []pipeline.BatchEntry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	if len(entries) > pipeline.MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}

// checkEntry validates a single entry. A non-nil result becomes a
// FailedEntry in the batch result rather than failing the whole call.
func checkEntry(e pipeline.BatchEntry) *pipeline.FailedEntry {
	if len(e.Body) == 0 {
		return &pipeline.FailedEntry{ID: e.ID, Code: "EmptyBody", Message: "entry body must not be empty"}
	}
	if len(e.Body) > maxBodyBytes {
		return &pipeline.FailedEntry{ID: e.ID, Code: "BodyTooLarge", Message: "entry body exceeds the maximum message size"}
	}
	return nil
}
