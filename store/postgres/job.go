package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// CreateJob inserts the job and, for the waiting index, draws its
// sequence number from backlog_queues in the same transaction.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return fmt.Errorf("%w: create in %q", backlog.ErrInvalidTransition, j.State)
	}
	m, err := toJobModel(j)
	if err != nil {
		return wrap("create job", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backlog_queues (name) VALUES ($1) ON CONFLICT DO NOTHING`,
			j.Queue,
		); err != nil {
			return err
		}
		score, err := s.score(ctx, tx, j)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO backlog_jobs (`+jobColumns+`, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			m.Queue, m.ID, m.Type, m.State, m.Payload, m.Options, m.Attempts, m.Error, m.Result,
			m.RunAt, m.CreatedAt, m.ProcessedAt, m.CompletedAt, m.FailedAt, score,
		)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return backlog.ErrJobAlreadyExists
		}
		return wrap("create job", err)
	}
	return nil
}

// GetJob retrieves a job by queue and ID.
func (s *Store) GetJob(ctx context.Context, queue string, jobID id.JobID) (*job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM backlog_jobs WHERE queue = $1 AND id = $2`,
		queue, jobID.String(),
	)
	if err != nil {
		return nil, wrap("get job", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[jobModel])
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	j, err := fromJobModel(m)
	if err != nil {
		return nil, wrap("get job", err)
	}
	return j, nil
}

// errMoveRejected carries a non-store outcome out of the transaction.
type errMoveRejected struct{ err error }

func (e errMoveRejected) Error() string { return e.err.Error() }

// MoveJob locks the row, checks it is still in from, and rewrites it.
func (s *Store) MoveJob(ctx context.Context, j *job.Job, from job.State) error {
	if !job.ValidTransition(from, j.State) {
		return fmt.Errorf("%w: %s -> %s", backlog.ErrInvalidTransition, from, j.State)
	}
	m, err := toJobModel(j)
	if err != nil {
		return wrap("move job", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockState(ctx, tx, j.Queue, m.ID, from); err != nil {
			return err
		}
		score, err := s.score(ctx, tx, j)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE backlog_jobs SET
				state = $3, score = $4, payload = $5, options = $6, attempts = $7,
				error = $8, result = $9, run_at = $10, processed_at = $11,
				completed_at = $12, failed_at = $13
			WHERE queue = $1 AND id = $2`,
			m.Queue, m.ID, m.State, score, m.Payload, m.Options, m.Attempts,
			m.Error, m.Result, m.RunAt, m.ProcessedAt, m.CompletedAt, m.FailedAt,
		)
		return err
	})
	return txResult("move job", err)
}

// RangeByScore reads one index in (score, id) order.
func (s *Store) RangeByScore(ctx context.Context, queue string, index job.State, maxScore float64, limit int) ([]id.JobID, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM backlog_jobs
		WHERE queue = $1 AND state = $2 AND score <= $3
		ORDER BY score, id
		LIMIT $4`,
		queue, string(index), maxScore, lim,
	)
	if err != nil {
		return nil, wrap("range jobs", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("range jobs", err)
	}

	ids := make([]id.JobID, 0, len(raw))
	for _, r := range raw {
		jobID, err := id.ParseJobID(r)
		if err != nil {
			return nil, wrap("range jobs", fmt.Errorf("parse job id %q: %w", r, err))
		}
		ids = append(ids, jobID)
	}
	return ids, nil
}

// DeleteJob removes a job still held in the from index.
func (s *Store) DeleteJob(ctx context.Context, queue string, jobID id.JobID, from job.State) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockState(ctx, tx, queue, jobID.String(), from); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM backlog_jobs WHERE queue = $1 AND id = $2`,
			queue, jobID.String(),
		)
		return err
	})
	return txResult("delete job", err)
}

// CountJobs sizes every index of a queue.
func (s *Store) CountJobs(ctx context.Context, queue string) (job.Counts, error) {
	var c job.Counts
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM backlog_jobs WHERE queue = $1 GROUP BY state`,
		queue,
	)
	if err != nil {
		return c, wrap("count jobs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return c, wrap("count jobs", err)
		}
		c.Add(job.State(state), n)
	}
	if err := rows.Err(); err != nil {
		return c, wrap("count jobs", err)
	}
	return c, nil
}

// ListQueues returns every queue that has held a job, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM backlog_queues ORDER BY name`)
	if err != nil {
		return nil, wrap("list queues", err)
	}
	queues, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("list queues", err)
	}
	return queues, nil
}

// score computes j's score in its target index, drawing a sequence
// number when it enters waiting.
func (s *Store) score(ctx context.Context, tx pgx.Tx, j *job.Job) (float64, error) {
	if j.State != job.StateWaiting {
		return job.IndexScore(j), nil
	}
	var seq int64
	err := tx.QueryRow(ctx,
		`UPDATE backlog_queues SET seq = seq + 1 WHERE name = $1 RETURNING seq`,
		j.Queue,
	).Scan(&seq)
	if isNoRows(err) {
		err = tx.QueryRow(ctx,
			`INSERT INTO backlog_queues (name, seq) VALUES ($1, 1)
			 ON CONFLICT (name) DO UPDATE SET seq = backlog_queues.seq + 1
			 RETURNING seq`,
			j.Queue,
		).Scan(&seq)
	}
	if err != nil {
		return 0, err
	}
	return job.WaitingScore(j.Options.Priority, seq), nil
}

// lockState locks a job row and checks its index.
func lockState(ctx context.Context, tx pgx.Tx, queue, jobID string, from job.State) error {
	var state string
	err := tx.QueryRow(ctx,
		`SELECT state FROM backlog_jobs WHERE queue = $1 AND id = $2 FOR UPDATE`,
		queue, jobID,
	).Scan(&state)
	if isNoRows(err) {
		return errMoveRejected{backlog.ErrJobNotFound}
	}
	if err != nil {
		return err
	}
	if state != string(from) {
		return errMoveRejected{backlog.ErrJobMoved}
	}
	return nil
}

func txResult(op string, err error) error {
	if err == nil {
		return nil
	}
	var rej errMoveRejected
	if errors.As(err, &rej) {
		return rej.err
	}
	return wrap(op, err)
}
