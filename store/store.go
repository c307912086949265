// Package store defines the aggregate persistence interface. Each subsystem
// (job, cron) defines its own store interface and the composite Store
// embeds them. Backends: Memory, Redis, and PostgreSQL.
package store

import (
	"context"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/job"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem store.
type Store interface {
	job.Store
	cron.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
