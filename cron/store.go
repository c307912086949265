package cron

import (
	"context"
	"time"
)

// Store defines the persistence contract for recurring definitions.
type Store interface {
	// SaveRecurring inserts or replaces the definition with the same key.
	SaveRecurring(ctx context.Context, d *Definition) error

	// GetRecurring returns a copy or backlog.ErrRecurringNotFound.
	GetRecurring(ctx context.Context, key string) (*Definition, error)

	// ListRecurring returns every definition, ordered by key.
	ListRecurring(ctx context.Context) ([]*Definition, error)

	// DeleteRecurring removes a definition or returns
	// backlog.ErrRecurringNotFound.
	DeleteRecurring(ctx context.Context, key string) error

	// AdvanceRecurring sets NextRunAt to next and LastRunAt to lastRunAt
	// only if the stored NextRunAt still equals prev. It reports whether
	// the swap happened; a missing key reports false.
	AdvanceRecurring(ctx context.Context, key string, prev, next time.Time, lastRunAt *time.Time) (bool, error)

	// ReplaceRecurring overwrites the stored definition with d only if its
	// NextRunAt still equals prev. A missing key reports false.
	ReplaceRecurring(ctx context.Context, d *Definition, prev time.Time) (bool, error)
}
