package printdesk

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/declanlscott/printdesk-sub004/internal/queue"
	"github.com/declanlscott/printdesk-sub004/internal/tenants"
	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// Re-export key types so users don't need to dig into pkg/pipeline.

type (
	Queue       = pipeline.Queue
	Message     = pipeline.Message
	BatchEntry  = pipeline.BatchEntry
	BatchResult = pipeline.BatchResult
	SentEntry   = pipeline.SentEntry
	FailedEntry = pipeline.FailedEntry
	WorkItem    = pipeline.WorkItem

	Observer             = pipeline.Observer
	NoopObserver         = pipeline.NoopObserver
	LoggingObserver      = pipeline.LoggingObserver
	CompositeObserver    = pipeline.CompositeObserver
	BasicMetrics         = pipeline.BasicMetrics
	BasicMetricsSnapshot = pipeline.BasicMetricsSnapshot

	Tenant       = tenants.Tenant
	TenantStatus = tenants.Status
	TenantStore  = tenants.Store
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = pipeline.NewLoggingObserver
	NewCompositeObserver = pipeline.NewCompositeObserver
)

// Re-export tenant status values for convenience.

const (
	TenantInitializing = tenants.StatusInitializing
	TenantActive       = tenants.StatusActive
	TenantSuspended    = tenants.StatusSuspended
)

// ErrTenantNotFound is returned by tenant stores for unknown ids.
var ErrTenantNotFound = tenants.ErrNotFound

// DefaultMaxReceiveCount is the receive budget queues apply before
// dead-lettering a work item. It matches the worker's default retry limit.
const DefaultMaxReceiveCount = queue.DefaultMaxReceiveCount

// Queue constructors

// NewMemoryQueue returns a process-local queue. Non-durable; intended for
// tests and the LocalPipeline.
func NewMemoryQueue(maxReceiveCount int) Queue {
	return queue.NewMemoryQueue(maxReceiveCount)
}

// NewSQLiteQueue returns a queue stored in the given SQLite database,
// creating its table on first use.
func NewSQLiteQueue(db *sql.DB, maxReceiveCount int) (Queue, error) {
	return queue.NewSQLiteQueue(db, maxReceiveCount)
}

// NewRedisQueue returns a queue backed by Redis. All keys are namespaced
// under prefix, so multiple queues can share one Redis instance.
func NewRedisQueue(client *redis.Client, prefix string, maxReceiveCount int) Queue {
	return queue.NewRedisQueue(client, prefix, maxReceiveCount)
}

// Tenant store constructors

// NewMemoryTenantStore returns a process-local tenant store.
func NewMemoryTenantStore() TenantStore {
	return tenants.NewMemoryStore()
}

// NewSQLiteTenantStore returns a tenant store in the given SQLite database,
// creating its table on first use.
func NewSQLiteTenantStore(db *sql.DB) (TenantStore, error) {
	return tenants.NewSQLiteStore(db)
}

// NewPostgresTenantStore returns a tenant store in the given Postgres
// database. The caller supplies the *sql.DB, typically opened with the
// pgx stdlib driver.
func NewPostgresTenantStore(db *sql.DB) (TenantStore, error) {
	return tenants.NewPostgresStore(db)
}
