// Package memory provides an in-process store backed by go-memdb.
//
// Every write runs in a single memdb write transaction, which serializes
// writers, so each compare-and-move is atomic. Readers get consistent
// snapshots without blocking writers. Records are copied in and out; no
// caller ever holds a pointer into the store.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ job.Store  = (*Store)(nil)
	_ cron.Store = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store. Safe for
// concurrent access. Intended for tests, development, and single-process
// deployments that accept losing state on exit.
type Store struct {
	db     *memdb.MemDB
	closed atomic.Bool
}

// New returns a new empty Store.
func New() *Store {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// The schema is static; failure is a programming error.
		panic("memory: invalid schema: " + err.Error())
	}
	return &Store{db: db}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	return s.check("ping")
}

// Close marks the store closed. Later calls fail with a StoreError.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(op string) error {
	if s.closed.Load() {
		return backlog.NewStoreError("memory", op, backlog.ErrStoreClosed)
	}
	return nil
}

func (s *Store) wrap(op string, err error) error {
	return backlog.NewStoreError("memory", op, err)
}
