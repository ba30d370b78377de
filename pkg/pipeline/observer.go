package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the dispatcher and worker for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay pipeline execution.
type Observer interface {
	// OnDispatchCompleted is called once per DispatchAll run with the number
	// of entries accepted and the number that failed to enqueue.
	OnDispatchCompleted(ctx context.Context, dispatched, failed int)

	// OnBatchStart is called when a worker begins processing a delivered
	// batch.
	OnBatchStart(ctx context.Context, size int)

	// OnItemStart is called before the unit of work runs for an item.
	OnItemStart(ctx context.Context, item WorkItem)

	// OnItemCompleted is called after the unit of work returns, for both
	// successes and failures (err != nil). retrying reports whether the
	// failure is expected to be redelivered.
	OnItemCompleted(ctx context.Context, item WorkItem, err error, retrying bool, duration time.Duration)

	// OnPublishFailed is called when the outcome notification for an item
	// could not be sent.
	OnPublishFailed(ctx context.Context, channel string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnDispatchCompleted(ctx context.Context, dispatched, failed int) {}
func (NoopObserver) OnBatchStart(ctx context.Context, size int)                      {}
func (NoopObserver) OnItemStart(ctx context.Context, item WorkItem)                  {}
func (NoopObserver) OnItemCompleted(ctx context.Context, item WorkItem, err error, retrying bool, d time.Duration) {
}
func (NoopObserver) OnPublishFailed(ctx context.Context, channel string, err error) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnDispatchCompleted(ctx context.Context, dispatched, failed int) {
	for _, o := range c.observers {
		o.OnDispatchCompleted(ctx, dispatched, failed)
	}
}

func (c *CompositeObserver) OnBatchStart(ctx context.Context, size int) {
	for _, o := range c.observers {
		o.OnBatchStart(ctx, size)
	}
}

func (c *CompositeObserver) OnItemStart(ctx context.Context, item WorkItem) {
	for _, o := range c.observers {
		o.OnItemStart(ctx, item)
	}
}

func (c *CompositeObserver) OnItemCompleted(ctx context.Context, item WorkItem, err error, retrying bool, d time.Duration) {
	for _, o := range c.observers {
		o.OnItemCompleted(ctx, item, err, retrying, d)
	}
}

func (c *CompositeObserver) OnPublishFailed(ctx context.Context, channel string, err error) {
	for _, o := range c.observers {
		o.OnPublishFailed(ctx, channel, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs pipeline lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnDispatchCompleted(ctx context.Context, dispatched, failed int) {
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "dispatch_completed",
		slog.Int("dispatched", dispatched),
		slog.Int("failed", failed),
	)
}

func (o *LoggingObserver) OnBatchStart(ctx context.Context, size int) {
	o.Logger.DebugContext(ctx, "batch_start",
		slog.Int("size", size),
	)
}

func (o *LoggingObserver) OnItemStart(ctx context.Context, item WorkItem) {
	o.Logger.DebugContext(ctx, "item_start",
		slog.String("dispatch_id", item.DispatchID),
		slog.String("tenant_id", item.TenantID),
	)
}

func (o *LoggingObserver) OnItemCompleted(ctx context.Context, item WorkItem, err error, retrying bool, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "item_completed",
		slog.String("dispatch_id", item.DispatchID),
		slog.String("tenant_id", item.TenantID),
		slog.Bool("retrying", retrying),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnPublishFailed(ctx context.Context, channel string, err error) {
	o.Logger.ErrorContext(ctx, "publish_failed",
		slog.String("channel", channel),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate item durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	itemsSucceeded    atomic.Int64
	itemsFailed       atomic.Int64
	itemsRetrying     atomic.Int64
	publishFailures   atomic.Int64
	enqueueFailures   atomic.Int64
	totalItemDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ItemsSucceeded  int64
	ItemsFailed     int64
	ItemsRetrying   int64
	PublishFailures int64
	EnqueueFailures int64
	AvgItemDuration time.Duration
}

func (m *BasicMetrics) OnDispatchCompleted(ctx context.Context, dispatched, failed int) {
	m.enqueueFailures.Add(int64(failed))
}

func (m *BasicMetrics) OnItemCompleted(ctx context.Context, item WorkItem, err error, retrying bool, d time.Duration) {
	if err == nil {
		m.itemsSucceeded.Add(1)
		m.totalItemDuration.Add(d.Nanoseconds())
		return
	}
	m.itemsFailed.Add(1)
	if retrying {
		m.itemsRetrying.Add(1)
	}
}

func (m *BasicMetrics) OnPublishFailed(ctx context.Context, channel string, err error) {
	m.publishFailures.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	succeeded := m.itemsSucceeded.Load()
	totalNs := m.totalItemDuration.Load()

	var avg time.Duration
	if succeeded > 0 {
		avg = time.Duration(totalNs / succeeded)
	}

	return BasicMetricsSnapshot{
		ItemsSucceeded:  succeeded,
		ItemsFailed:     m.itemsFailed.Load(),
		ItemsRetrying:   m.itemsRetrying.Load(),
		PublishFailures: m.publishFailures.Load(),
		EnqueueFailures: m.enqueueFailures.Load(),
		AvgItemDuration: avg,
	}
}
