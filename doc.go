// Package printdesk implements the asynchronous tenant-provisioning
// pipeline for a multi-tenant print-management service.
//
// Provisioning a tenant is a long-running, failure-prone job: infrastructure
// is created, services are health-checked, data is synchronized from the
// tenant's PaperCut server, and only then does the tenant go active. The
// pipeline runs that job asynchronously and reports progress over realtime
// channels instead of holding a request open.
//
// # Components
//
//  1. Dispatcher
//  2. Queue
//  3. Worker
//  4. Publisher and Signer
//  5. Realtime client
//  6. Setup workflow
//
// The Dispatcher (pkg/dispatcher) enumerates eligible tenants and enqueues
// one work item per tenant, in batches with per-entry failure reporting.
//
// The Queue (constructed via NewMemoryQueue, NewSQLiteQueue, or
// NewRedisQueue) delivers work items at least once: a received item stays
// invisible for a visibility window, is redelivered with an incremented
// receive count when not deleted in time, and is dead-lettered once its
// receive budget is exhausted.
//
// The Worker (pkg/worker) consumes batches, executes each item
// independently, and publishes one outcome event per attempt on the
// dispatch's channel. A failed attempt below the retry limit is announced
// as a retry notice; the final failure is terminal.
//
// The Publisher and Signer (pkg/realtime) deliver those events over an
// authenticated HTTP endpoint; credentials are short-lived and scoped to a
// single channel and direction.
//
// The realtime client (pkg/realtime) is the subscriber side: one websocket
// connection per process, subscriptions multiplexed by local id, with the
// keep-alive and reconnect protocol handled internally.
//
// The Setup workflow (pkg/workflow) is the client-resident state machine
// that drives one tenant through register, infrastructure wait,
// healthcheck, initial sync, and activation, correlating inbound events by
// dispatch id.
//
// # Storage
//
// Work queues and tenant records can be backed by memory (tests and
// single-process development), SQLite, Redis, or Postgres. All backends
// share the same semantics; constructors live in this package so callers
// never import internal packages.
//
// # LocalPipeline
//
// LocalPipeline bundles an in-memory queue, tenant store, dispatcher, and
// worker into a single process-local helper for development and tests. It
// is not crash-durable.
//
// For runnable examples, see the /examples directory.
package printdesk
