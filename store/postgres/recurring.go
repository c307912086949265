package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
)

// SaveRecurring upserts a definition by key.
func (s *Store) SaveRecurring(ctx context.Context, d *cron.Definition) error {
	opts, err := json.Marshal(d.Options)
	if err != nil {
		return wrap("save recurring", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO backlog_recurring (`+recurringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			queue = EXCLUDED.queue,
			type = EXCLUDED.type,
			payload = EXCLUDED.payload,
			schedule = EXCLUDED.schedule,
			options = EXCLUDED.options,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		d.Key(), d.Queue, string(d.Type), d.Payload, d.Schedule, opts,
		d.NextRunAt, d.LastRunAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return wrap("save recurring", err)
	}
	return nil
}

// GetRecurring returns a definition by key.
func (s *Store) GetRecurring(ctx context.Context, key string) (*cron.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recurringColumns+` FROM backlog_recurring WHERE key = $1`, key)
	if err != nil {
		return nil, wrap("get recurring", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[recurringModel])
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrRecurringNotFound
		}
		return nil, wrap("get recurring", err)
	}
	d, err := fromRecurringModel(m)
	if err != nil {
		return nil, wrap("get recurring", err)
	}
	return d, nil
}

// ListRecurring returns every definition ordered by key.
func (s *Store) ListRecurring(ctx context.Context) ([]*cron.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recurringColumns+` FROM backlog_recurring ORDER BY key`)
	if err != nil {
		return nil, wrap("list recurring", err)
	}
	models, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[recurringModel])
	if err != nil {
		return nil, wrap("list recurring", err)
	}

	out := make([]*cron.Definition, 0, len(models))
	for _, m := range models {
		d, err := fromRecurringModel(m)
		if err != nil {
			return nil, wrap("list recurring", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteRecurring removes a definition.
func (s *Store) DeleteRecurring(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_recurring WHERE key = $1`, key)
	if err != nil {
		return wrap("delete recurring", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrRecurringNotFound
	}
	return nil
}

// AdvanceRecurring is a conditional UPDATE on next_run_at.
func (s *Store) AdvanceRecurring(ctx context.Context, key string, prev, next time.Time, lastRunAt *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backlog_recurring
		SET next_run_at = $3, last_run_at = $4, updated_at = $5
		WHERE key = $1 AND next_run_at = $2`,
		key, prev, next, lastRunAt, time.Now().UTC(),
	)
	if err != nil {
		return false, wrap("advance recurring", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceRecurring is a conditional full-row UPDATE on next_run_at.
func (s *Store) ReplaceRecurring(ctx context.Context, d *cron.Definition, prev time.Time) (bool, error) {
	opts, err := json.Marshal(d.Options)
	if err != nil {
		return false, wrap("replace recurring", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE backlog_recurring
		SET queue = $3, type = $4, payload = $5, schedule = $6, options = $7,
			next_run_at = $8, last_run_at = $9, created_at = $10, updated_at = $11
		WHERE key = $1 AND next_run_at = $2`,
		d.Key(), prev, d.Queue, string(d.Type), d.Payload, d.Schedule, opts,
		d.NextRunAt, d.LastRunAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, wrap("replace recurring", err)
	}
	return tag.RowsAffected() == 1, nil
}
