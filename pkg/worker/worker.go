// Package worker consumes work items from the queue, executes them, and
// publishes the correlated outcome event for each attempt.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
	"github.com/declanlscott/printdesk-sub004/pkg/realtime"
)

// Executor runs one unit of provisioning work. The worker treats it as
// opaque: a nil return is success, anything else is a failed attempt.
type Executor interface {
	Execute(ctx context.Context, item pipeline.WorkItem) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item pipeline.WorkItem) error

func (f ExecutorFunc) Execute(ctx context.Context, item pipeline.WorkItem) error {
	return f(ctx, item)
}

// Publisher is the slice of the realtime publisher the worker needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, evs []events.Event) error
}

// DefaultRetryLimit matches the queue's receive budget: an attempt whose
// receive count has reached the limit is the last one, so its failure event
// is terminal rather than a retry notice.
const DefaultRetryLimit = 3

const (
	defaultVisibility = 30 * time.Second
	defaultBatchSize  = pipeline.MaxBatchSize
)

// Config configures a Worker.
type Config struct {
	Queue    pipeline.Queue
	Executor Executor

	// Publisher delivers outcome events. Optional: without one, outcomes
	// simply are not announced.
	Publisher Publisher

	// ResultKind selects the outcome event type this worker emits,
	// KindInfraProvisionResult or KindPapercutSyncResult.
	ResultKind events.Kind

	// RetryLimit defaults to DefaultRetryLimit. It should equal the
	// queue's max receive count so retry notices and dead-lettering agree.
	RetryLimit int

	// BatchSize defaults to the queue batch limit.
	BatchSize int

	// Visibility is the claim window per receive. Defaults to 30s.
	Visibility time.Duration

	Observer pipeline.Observer
	Logger   *slog.Logger
}

// Worker is the consuming end of the pipeline.
type Worker struct {
	queue      pipeline.Queue
	executor   Executor
	publisher  Publisher
	resultKind events.Kind
	retryLimit int
	batchSize  int
	visibility time.Duration
	observer   pipeline.Observer
	logger     *slog.Logger
}

// New validates cfg and builds a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker: Queue is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("worker: Executor is required")
	}
	switch cfg.ResultKind {
	case events.KindInfraProvisionResult, events.KindPapercutSyncResult:
	default:
		return nil, fmt.Errorf("worker: ResultKind %q is not an outcome event kind", cfg.ResultKind)
	}
	w := &Worker{
		queue:      cfg.Queue,
		executor:   cfg.Executor,
		publisher:  cfg.Publisher,
		resultKind: cfg.ResultKind,
		retryLimit: cfg.RetryLimit,
		batchSize:  cfg.BatchSize,
		visibility: cfg.Visibility,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
	}
	if w.retryLimit <= 0 {
		w.retryLimit = DefaultRetryLimit
	}
	if w.batchSize <= 0 || w.batchSize > pipeline.MaxBatchSize {
		w.batchSize = defaultBatchSize
	}
	if w.visibility <= 0 {
		w.visibility = defaultVisibility
	}
	if w.observer == nil {
		w.observer = pipeline.NoopObserver{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// BatchOutcome reports which messages of a batch must stay on the queue.
// Everything not listed is considered handled and safe to delete.
type BatchOutcome struct {
	FailedIDs []string
}

// OnBatch executes every message of a batch concurrently and publishes one
// outcome event per attempt. A failed item lands in FailedIDs so the queue
// redelivers it; publishing problems are reported to the observer but never
// change an item's outcome.
func (w *Worker) OnBatch(ctx context.Context, msgs []pipeline.Message) BatchOutcome {
	w.observer.OnBatchStart(ctx, len(msgs))

	var (
		mu      sync.Mutex
		outcome BatchOutcome
		wg      sync.WaitGroup
	)
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg pipeline.Message) {
			defer wg.Done()
			if !w.process(ctx, msg) {
				mu.Lock()
				outcome.FailedIDs = append(outcome.FailedIDs, msg.ID)
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()
	return outcome
}

// process runs one message end to end and reports whether it succeeded.
func (w *Worker) process(ctx context.Context, msg pipeline.Message) bool {
	item, err := pipeline.DecodeBody(msg)
	if err != nil {
		// Undecodable items still follow the failure path so a watcher
		// sees the attempts until the queue dead-letters the message.
		w.logger.Error("work item body is malformed", "messageId", msg.ID, "error", err)
		w.finishItem(ctx, pipeline.WorkItem{DispatchID: msg.ID}, msg, err, 0)
		return false
	}

	w.observer.OnItemStart(ctx, item)
	start := time.Now()
	err = w.execute(ctx, item)
	w.finishItem(ctx, item, msg, err, time.Since(start))
	return err == nil
}

// execute invokes the executor with panic containment: a panicking item is
// a failed item, not a dead worker.
func (w *Worker) execute(ctx context.Context, item pipeline.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: executor panicked: %v", r)
		}
	}()
	return w.executor.Execute(ctx, item)
}

func (w *Worker) finishItem(ctx context.Context, item pipeline.WorkItem, msg pipeline.Message, execErr error, d time.Duration) {
	retrying := execErr != nil && msg.ReceiveCount < w.retryLimit
	w.observer.OnItemCompleted(ctx, item, execErr, retrying, d)

	if execErr != nil {
		level := slog.LevelWarn
		if !retrying {
			level = slog.LevelError
		}
		w.logger.Log(ctx, level, "work item failed",
			"dispatchId", msg.ID,
			"tenantId", item.TenantID,
			"receiveCount", msg.ReceiveCount,
			"retrying", retrying,
			"error", execErr)
	}

	w.publishOutcome(ctx, msg.ID, execErr, retrying)
}

// publishOutcome announces the attempt's result on the dispatch's event
// channel. Delivery is courtesy: a lost event never fails the item, and a
// failed publish never rescues it.
func (w *Worker) publishOutcome(ctx context.Context, dispatchID string, execErr error, retrying bool) {
	if w.publisher == nil {
		return
	}
	ev := w.outcomeEvent(dispatchID, execErr, retrying)
	channel := realtime.ChannelFor(realtime.ChannelEvents, dispatchID)
	if err := w.publisher.Publish(ctx, channel, []events.Event{ev}); err != nil {
		w.observer.OnPublishFailed(ctx, channel, err)
		w.logger.Warn("outcome event publish failed",
			"channel", channel, "dispatchId", dispatchID, "error", err)
	}
}

func (w *Worker) outcomeEvent(dispatchID string, execErr error, retrying bool) events.Event {
	success := execErr == nil
	var errText string
	if execErr != nil {
		errText = execErr.Error()
	}
	if w.resultKind == events.KindPapercutSyncResult {
		return &events.PapercutSyncResult{
			Success:    success,
			DispatchID: dispatchID,
			Retrying:   retrying,
			Error:      errText,
		}
	}
	return &events.InfraProvisionResult{
		Success:    success,
		DispatchID: dispatchID,
		Retrying:   retrying,
		Error:      errText,
	}
}

// Run polls the queue until ctx is done: receive a batch, execute it, and
// delete everything that succeeded. Failed items keep their claim until the
// visibility window lapses and the queue redelivers or dead-letters them.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"resultKind", string(w.resultKind),
		"batchSize", w.batchSize,
		"visibility", w.visibility)
	for {
		msgs, err := w.queue.Receive(ctx, w.batchSize, w.visibility)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return ctx.Err()
			}
			w.logger.Error("receive failed", "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		outcome := w.OnBatch(ctx, msgs)
		failed := make(map[string]bool, len(outcome.FailedIDs))
		for _, id := range outcome.FailedIDs {
			failed[id] = true
		}
		for _, msg := range msgs {
			if failed[msg.ID] {
				continue
			}
			if err := w.queue.Delete(ctx, msg.ID); err != nil {
				w.logger.Error("deleting handled work item failed",
					"dispatchId", msg.ID, "error", err)
			}
		}
	}
}
