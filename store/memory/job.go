package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// CreateJob persists a new job into its delayed or waiting index.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	if err := s.check("create job"); err != nil {
		return err
	}
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return fmt.Errorf("%w: create in %q", backlog.ErrInvalidTransition, j.State)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	key := rowKey(j.Queue, j.ID.String())
	existing, err := txn.First(tableJobs, indexID, key)
	if err != nil {
		return s.wrap("create job", err)
	}
	if existing != nil {
		return backlog.ErrJobAlreadyExists
	}

	if err := s.insertJob(txn, j.Clone()); err != nil {
		return s.wrap("create job", err)
	}
	txn.Commit()
	return nil
}

// GetJob returns a copy of the job.
func (s *Store) GetJob(_ context.Context, queue string, jobID id.JobID) (*job.Job, error) {
	if err := s.check("get job"); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableJobs, indexID, rowKey(queue, jobID.String()))
	if err != nil {
		return nil, s.wrap("get job", err)
	}
	if raw == nil {
		return nil, backlog.ErrJobNotFound
	}
	return raw.(*jobRow).Job.Clone(), nil
}

// MoveJob is the compare-and-move primitive.
func (s *Store) MoveJob(_ context.Context, j *job.Job, from job.State) error {
	if err := s.check("move job"); err != nil {
		return err
	}
	if !job.ValidTransition(from, j.State) {
		return fmt.Errorf("%w: %s -> %s", backlog.ErrInvalidTransition, from, j.State)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableJobs, indexID, rowKey(j.Queue, j.ID.String()))
	if err != nil {
		return s.wrap("move job", err)
	}
	if raw == nil {
		return backlog.ErrJobNotFound
	}
	if raw.(*jobRow).State != string(from) {
		return backlog.ErrJobMoved
	}

	if err := s.insertJob(txn, j.Clone()); err != nil {
		return s.wrap("move job", err)
	}
	txn.Commit()
	return nil
}

// insertJob writes j into the index named by j.State, drawing a new
// sequence number when it enters waiting. Inserting under an existing
// primary key replaces the old row and its index entries.
func (s *Store) insertJob(txn *memdb.Txn, j *job.Job) error {
	qraw, err := txn.First(tableQueues, indexID, j.Queue)
	if err != nil {
		return err
	}
	q := &queueRow{Name: j.Queue}
	if qraw != nil {
		q.Seq = qraw.(*queueRow).Seq
	}

	var score float64
	if j.State == job.StateWaiting {
		q.Seq++
		score = job.WaitingScore(j.Options.Priority, q.Seq)
	} else {
		score = job.IndexScore(j)
	}
	if qraw == nil || j.State == job.StateWaiting {
		if err := txn.Insert(tableQueues, q); err != nil {
			return err
		}
	}

	return txn.Insert(tableJobs, &jobRow{
		Key:     rowKey(j.Queue, j.ID.String()),
		Queue:   j.Queue,
		State:   string(j.State),
		SortKey: sortKey(score),
		Score:   score,
		Job:     j,
	})
}

// RangeByScore walks one index in score order.
func (s *Store) RangeByScore(_ context.Context, queue string, index job.State, maxScore float64, limit int) ([]id.JobID, error) {
	if err := s.check("range jobs"); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableJobs, indexOrder+"_prefix", queue, string(index), "")
	if err != nil {
		return nil, s.wrap("range jobs", err)
	}

	var ids []id.JobID
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*jobRow)
		if row.Score > maxScore {
			break
		}
		ids = append(ids, row.Job.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// DeleteJob removes a job still held in the from index.
func (s *Store) DeleteJob(_ context.Context, queue string, jobID id.JobID, from job.State) error {
	if err := s.check("delete job"); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableJobs, indexID, rowKey(queue, jobID.String()))
	if err != nil {
		return s.wrap("delete job", err)
	}
	if raw == nil {
		return backlog.ErrJobNotFound
	}
	if raw.(*jobRow).State != string(from) {
		return backlog.ErrJobMoved
	}
	if err := txn.Delete(tableJobs, raw); err != nil {
		return s.wrap("delete job", err)
	}
	txn.Commit()
	return nil
}

// CountJobs sizes every index of a queue.
func (s *Store) CountJobs(_ context.Context, queue string) (job.Counts, error) {
	var c job.Counts
	if err := s.check("count jobs"); err != nil {
		return c, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	for _, st := range job.States {
		it, err := txn.Get(tableJobs, indexOrder+"_prefix", queue, string(st), "")
		if err != nil {
			return c, s.wrap("count jobs", err)
		}
		var n int64
		for raw := it.Next(); raw != nil; raw = it.Next() {
			n++
		}
		c.Add(st, n)
	}
	return c, nil
}

// ListQueues returns every queue that has held a job, sorted.
func (s *Store) ListQueues(_ context.Context) ([]string, error) {
	if err := s.check("list queues"); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableQueues, indexID)
	if err != nil {
		return nil, s.wrap("list queues", err)
	}
	var out []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*queueRow).Name)
	}
	return out, nil
}
