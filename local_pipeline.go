package printdesk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/declanlscott/printdesk-sub004/pkg/dispatcher"
	"github.com/declanlscott/printdesk-sub004/pkg/events"
	"github.com/declanlscott/printdesk-sub004/pkg/worker"
)

// LocalPipeline bundles an in-memory queue, an in-memory tenant store, a
// dispatcher, and a worker into a simple single-process pipeline for
// development and testing.
//
// Typical usage:
//
//	lp, _ := printdesk.NewLocalPipeline(printdesk.LocalPipelineConfig{
//		Executor: worker.ExecutorFunc(provision),
//	})
//	_ = lp.Store.Save(ctx, tenant)
//	_ = lp.StartWorkers(ctx, 2)
//	summary, _ := lp.Dispatcher.DispatchAll(ctx)
//	...
//	lp.Stop()
//
// LocalPipeline is intentionally not crash-durable.
type LocalPipeline struct {
	// Queue is the in-memory work queue.
	Queue Queue

	// Store is the in-memory tenant store fed to the Dispatcher.
	Store TenantStore

	// Dispatcher enqueues work items for eligible tenants.
	Dispatcher *dispatcher.Dispatcher

	// Worker consumes and executes the enqueued items.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// LocalPipelineConfig configures a LocalPipeline.
type LocalPipelineConfig struct {
	// Executor runs each work item. Required.
	Executor worker.Executor

	// Publisher announces outcome events. Optional; without it outcomes
	// are not published.
	Publisher worker.Publisher

	// ResultKind defaults to the infrastructure provisioning outcome.
	ResultKind events.Kind

	// Visibility is the worker's claim window per receive. Defaults to
	// the worker's own default; tests shrink it to speed up redelivery.
	Visibility time.Duration

	// Observer observes both dispatch and worker lifecycles. Optional.
	Observer Observer
}

// NewLocalPipeline constructs a LocalPipeline with default retry budget.
func NewLocalPipeline(cfg LocalPipelineConfig) (*LocalPipeline, error) {
	if cfg.Executor == nil {
		return nil, errors.New("printdesk: LocalPipeline requires an Executor")
	}
	if cfg.ResultKind == "" {
		cfg.ResultKind = events.KindInfraProvisionResult
	}

	q := NewMemoryQueue(DefaultMaxReceiveCount)
	store := NewMemoryTenantStore()
	w, err := worker.New(worker.Config{
		Queue:      q,
		Executor:   cfg.Executor,
		Publisher:  cfg.Publisher,
		ResultKind: cfg.ResultKind,
		Visibility: cfg.Visibility,
		Observer:   cfg.Observer,
	})
	if err != nil {
		return nil, err
	}

	return &LocalPipeline{
		Queue:      q,
		Store:      store,
		Dispatcher: dispatcher.New(store, q, cfg.Observer, nil),
		Worker:     w,
	}, nil
}

// StartWorkers starts concurrency goroutines running Worker.Run until Stop
// is called or ctx is cancelled. Calling it again without Stop is an error.
func (lp *LocalPipeline) StartWorkers(ctx context.Context, concurrency int) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if lp.running {
		return errors.New("printdesk: LocalPipeline already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	lp.cancel = cancel
	lp.running = true

	for i := 0; i < concurrency; i++ {
		lp.wg.Add(1)
		go func() {
			defer lp.wg.Done()
			_ = lp.Worker.Run(ctx)
		}()
	}
	return nil
}

// Stop cancels the worker goroutines and waits for them to exit. It is a
// no-op on a pipeline that is not running.
func (lp *LocalPipeline) Stop() {
	lp.mu.Lock()
	if !lp.running {
		lp.mu.Unlock()
		return
	}
	cancel := lp.cancel
	lp.cancel = nil
	lp.running = false
	lp.mu.Unlock()

	cancel()
	lp.wg.Wait()
}
