package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
)

// SaveRecurring inserts or replaces a definition.
func (s *Store) SaveRecurring(ctx context.Context, d *cron.Definition) error {
	data, err := encodeDefinition(d)
	if err != nil {
		return wrap("save recurring", err)
	}
	key := d.Key()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recurringKey, key, data)
	pipe.HSet(ctx, recurringNextKey, key, nanos(d.NextRunAt))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("save recurring", err)
	}
	return nil
}

// GetRecurring returns a definition by key.
func (s *Store) GetRecurring(ctx context.Context, key string) (*cron.Definition, error) {
	data, err := s.client.HGet(ctx, recurringKey, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, backlog.ErrRecurringNotFound
		}
		return nil, wrap("get recurring", err)
	}
	d, err := decodeDefinition(data)
	if err != nil {
		return nil, wrap("get recurring", err)
	}
	return d, nil
}

// ListRecurring returns every definition ordered by key.
func (s *Store) ListRecurring(ctx context.Context) ([]*cron.Definition, error) {
	all, err := s.client.HGetAll(ctx, recurringKey).Result()
	if err != nil {
		return nil, wrap("list recurring", err)
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*cron.Definition, 0, len(keys))
	for _, k := range keys {
		d, err := decodeDefinition([]byte(all[k]))
		if err != nil {
			return nil, wrap("list recurring", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteRecurring removes a definition.
func (s *Store) DeleteRecurring(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	del := pipe.HDel(ctx, recurringKey, key)
	pipe.HDel(ctx, recurringNextKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("delete recurring", err)
	}
	if del.Val() == 0 {
		return backlog.ErrRecurringNotFound
	}
	return nil
}

// AdvanceRecurring swaps NextRunAt if it still equals prev.
func (s *Store) AdvanceRecurring(ctx context.Context, key string, prev, next time.Time, lastRunAt *time.Time) (bool, error) {
	d, err := s.GetRecurring(ctx, key)
	if errors.Is(err, backlog.ErrRecurringNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
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
	data, err := encodeDefinition(d)
	if err != nil {
		return false, wrap("advance recurring", err)
	}

	n, err := advanceScript.Run(ctx, s.client,
		[]string{recurringKey, recurringNextKey},
		key, nanos(prev), nanos(next), data,
	).Int()
	if err != nil {
		return false, wrap("advance recurring", err)
	}
	return n == 1, nil
}

// ReplaceRecurring overwrites d if the stored NextRunAt still equals prev.
func (s *Store) ReplaceRecurring(ctx context.Context, d *cron.Definition, prev time.Time) (bool, error) {
	data, err := encodeDefinition(d)
	if err != nil {
		return false, wrap("replace recurring", err)
	}
	n, err := advanceScript.Run(ctx, s.client,
		[]string{recurringKey, recurringNextKey},
		d.Key(), nanos(prev), nanos(d.NextRunAt), data,
	).Int()
	if err != nil {
		return false, wrap("replace recurring", err)
	}
	return n == 1, nil
}

func nanos(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }
