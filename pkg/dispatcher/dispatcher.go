// Package dispatcher fans provisioning work out onto the queue: one work
// item per eligible tenant, batched to the queue's batch limit.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/declanlscott/printdesk-sub004/internal/tenants"
	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// Summary reports the outcome of one dispatch run. Success is true only
// when every work item was enqueued; a single failed entry flips the whole
// run to failed while the remaining items still go out.
type Summary struct {
	Dispatched int
	Failed     []pipeline.FailedEntry
	Success    bool
}

// Dispatcher enumerates eligible tenants and enqueues a work item for each.
type Dispatcher struct {
	store    tenants.Store
	queue    pipeline.Queue
	observer pipeline.Observer
	logger   *slog.Logger
}

// New builds a Dispatcher. A nil observer means no observation; a nil
// logger means slog.Default.
func New(store tenants.Store, queue pipeline.Queue, observer pipeline.Observer, logger *slog.Logger) *Dispatcher {
	if observer == nil {
		observer = pipeline.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, queue: queue, observer: observer, logger: logger}
}

// DispatchAll enqueues one work item per active tenant, carrying that
// tenant's infra program input as payload. Entries are sent in batches of
// pipeline.MaxBatchSize. Failures are per-entry: a rejected entry never
// stops the rest of the run.
func (d *Dispatcher) DispatchAll(ctx context.Context) (Summary, error) {
	eligible, err := d.store.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("dispatcher: listing active tenants: %w", err)
	}

	var summary Summary
	entries := make([]pipeline.BatchEntry, 0, pipeline.MaxBatchSize)

	flush := func() {
		if len(entries) == 0 {
			return
		}
		batch := entries
		entries = nil
		result, err := d.queue.SendBatch(ctx, batch)
		if err != nil {
			// The whole request failed; every entry in it did too.
			d.logger.Error("dispatch batch send failed", "size", len(batch), "error", err)
			for _, e := range batch {
				summary.Failed = append(summary.Failed, pipeline.FailedEntry{
					ID:      e.ID,
					Code:    "RequestError",
					Message: err.Error(),
				})
			}
			return
		}
		summary.Dispatched += len(result.Sent)
		summary.Failed = append(summary.Failed, result.Failed...)
	}

	for _, tenant := range eligible {
		body, err := pipeline.EncodeBody(tenant.ID, tenant.InfraProgramInput)
		if err != nil {
			summary.Failed = append(summary.Failed, pipeline.FailedEntry{
				ID:      tenant.ID,
				Code:    "EncodeError",
				Message: err.Error(),
			})
			continue
		}
		entries = append(entries, pipeline.BatchEntry{ID: tenant.ID, Body: body})
		if len(entries) == pipeline.MaxBatchSize {
			flush()
		}
	}
	flush()

	summary.Success = len(summary.Failed) == 0
	d.observer.OnDispatchCompleted(ctx, summary.Dispatched, len(summary.Failed))
	if !summary.Success {
		d.logger.Warn("dispatch run completed with failures",
			"dispatched", summary.Dispatched, "failed", len(summary.Failed))
	} else {
		d.logger.Info("dispatch run completed", "dispatched", summary.Dispatched)
	}
	return summary, nil
}

// Dispatch enqueues a single work item for one tenant and returns the
// dispatch id the queue minted for it. The id correlates the eventual
// outcome event with this request.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, payload json.RawMessage) (string, error) {
	body, err := pipeline.EncodeBody(tenantID, payload)
	if err != nil {
		return "", fmt.Errorf("dispatcher: encoding work item for tenant %s: %w", tenantID, err)
	}
	result, err := d.queue.SendBatch(ctx, []pipeline.BatchEntry{{ID: tenantID, Body: body}})
	if err != nil {
		return "", fmt.Errorf("dispatcher: enqueueing work item for tenant %s: %w", tenantID, err)
	}
	if len(result.Failed) > 0 {
		f := result.Failed[0]
		d.observer.OnDispatchCompleted(ctx, 0, 1)
		return "", fmt.Errorf("dispatcher: work item for tenant %s rejected: %s: %s", tenantID, f.Code, f.Message)
	}
	d.observer.OnDispatchCompleted(ctx, 1, 0)
	return result.Sent[0].MessageID, nil
}
