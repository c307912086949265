package memory

import (
	"context"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
)

// SaveRecurring inserts or replaces a definition.
func (s *Store) SaveRecurring(_ context.Context, d *cron.Definition) error {
	if err := s.check("save recurring"); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tableRecurring, &recurringRow{Key: d.Key(), Def: d.Clone()}); err != nil {
		return s.wrap("save recurring", err)
	}
	txn.Commit()
	return nil
}

// GetRecurring returns a copy of a definition.
func (s *Store) GetRecurring(_ context.Context, key string) (*cron.Definition, error) {
	if err := s.check("get recurring"); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableRecurring, indexID, key)
	if err != nil {
		return nil, s.wrap("get recurring", err)
	}
	if raw == nil {
		return nil, backlog.ErrRecurringNotFound
	}
	return raw.(*recurringRow).Def.Clone(), nil
}

// ListRecurring returns every definition ordered by key.
func (s *Store) ListRecurring(_ context.Context) ([]*cron.Definition, error) {
	if err := s.check("list recurring"); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableRecurring, indexID)
	if err != nil {
		return nil, s.wrap("list recurring", err)
	}
	var out []*cron.Definition
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*recurringRow).Def.Clone())
	}
	return out, nil
}

// DeleteRecurring removes a definition.
func (s *Store) DeleteRecurring(_ context.Context, key string) error {
	if err := s.check("delete recurring"); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRecurring, indexID, key)
	if err != nil {
		return s.wrap("delete recurring", err)
	}
	if raw == nil {
		return backlog.ErrRecurringNotFound
	}
	if err := txn.Delete(tableRecurring, raw); err != nil {
		return s.wrap("delete recurring", err)
	}
	txn.Commit()
	return nil
}

// AdvanceRecurring swaps NextRunAt if it still equals prev.
func (s *Store) AdvanceRecurring(_ context.Context, key string, prev, next time.Time, lastRunAt *time.Time) (bool, error) {
	if err := s.check("advance recurring"); err != nil {
		return false, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRecurring, indexID, key)
	if err != nil {
		return false, s.wrap("advance recurring", err)
	}
	if raw == nil {
		return false, nil
	}
	d := raw.(*recurringRow).Def.Clone()
	if !d.NextRunAt.Equal(prev) {
		return false, nil
	}
	d.NextRunAt = next
	d.LastRunAt = nil
	if lastRunAt != nil {
		t := *lastRunAt
		d.LastRunAt = &t
	}
	d.UpdatedAt = time.Now().UTC()

	if err := txn.Insert(tableRecurring, &recurringRow{Key: key, Def: d}); err != nil {
		return false, s.wrap("advance recurring", err)
	}
	txn.Commit()
	return true, nil
}

// ReplaceRecurring overwrites d if the stored NextRunAt still equals prev.
func (s *Store) ReplaceRecurring(_ context.Context, d *cron.Definition, prev time.Time) (bool, error) {
	if err := s.check("replace recurring"); err != nil {
		return false, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRecurring, indexID, d.Key())
	if err != nil {
		return false, s.wrap("replace recurring", err)
	}
	if raw == nil || !raw.(*recurringRow).Def.NextRunAt.Equal(prev) {
		return false, nil
	}
	if err := txn.Insert(tableRecurring, &recurringRow{Key: d.Key(), Def: d.Clone()}); err != nil {
		return false, s.wrap("replace recurring", err)
	}
	txn.Commit()
	return true, nil
}
