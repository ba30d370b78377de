// Package tenants stores tenant records for the provisioning pipeline.
//
// The dispatcher only needs two things from a tenant: that it is eligible
// for provisioning (active with a stored infrastructure program input) and
// the opaque program input itself. Store implementations mirror the queue
// backends: memory, SQLite, Postgres.
package tenants

import (
	"context"
	"encoding/json"
	"errors"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenants: tenant not found")

// Tenant is one customer organization.
type Tenant struct {
	ID     string
	Slug   string
	Status Status

	// InfraProgramInput is the opaque provisioning input carried into each
	// dispatched work item. The pipeline never inspects it.
	InfraProgramInput json.RawMessage
}

// Store handles storage of tenant records.
type Store interface {
	Save(ctx context.Context, t Tenant) error
	Get(ctx context.Context, id string) (Tenant, error)

	// ListActive returns tenants eligible for provisioning dispatch:
	// status active with a non-empty InfraProgramInput.
	ListActive(ctx context.Context) ([]Tenant, error)
}
