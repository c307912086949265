package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// CreateJob stores the record and adds it to its delayed or waiting index.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return fmt.Errorf("%w: create in %q", backlog.ErrInvalidTransition, j.State)
	}
	data, err := encodeJob(j)
	if err != nil {
		return wrap("create job", err)
	}

	// The queue set is outside the queue's slot; adding first is harmless
	// if the create then fails.
	if err := s.client.SAdd(ctx, queuesKey, j.Queue).Err(); err != nil {
		return wrap("create job", err)
	}

	jID := j.ID.String()
	n, err := createScript.Run(ctx, s.client,
		[]string{jobKey(j.Queue, jID), indexKey(j.Queue, string(j.State)), seqKey(j.Queue)},
		jID, string(j.State), data, scoreArg(j), job.ClampPriority(j.Options.Priority), waitingArg(j.State),
	).Int()
	if err != nil {
		return wrap("create job", err)
	}
	if n == 0 {
		return backlog.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by queue and ID.
func (s *Store) GetJob(ctx context.Context, queue string, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.HGet(ctx, jobKey(queue, jobID.String()), "data").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	j, err := decodeJob(data)
	if err != nil {
		return nil, wrap("get job", err)
	}
	return j, nil
}

// MoveJob runs the compare-and-move script.
func (s *Store) MoveJob(ctx context.Context, j *job.Job, from job.State) error {
	if !job.ValidTransition(from, j.State) {
		return fmt.Errorf("%w: %s -> %s", backlog.ErrInvalidTransition, from, j.State)
	}
	data, err := encodeJob(j)
	if err != nil {
		return wrap("move job", err)
	}

	jID := j.ID.String()
	n, err := moveScript.Run(ctx, s.client,
		[]string{
			jobKey(j.Queue, jID),
			indexKey(j.Queue, string(from)),
			indexKey(j.Queue, string(j.State)),
			seqKey(j.Queue),
		},
		jID, string(from), string(j.State), data, scoreArg(j), job.ClampPriority(j.Options.Priority), waitingArg(j.State),
	).Int()
	if err != nil {
		return wrap("move job", err)
	}
	return moveResult(n)
}

// RangeByScore reads one Sorted Set. Redis orders equal scores by member,
// which is the job id.
func (s *Store) RangeByScore(ctx context.Context, queue string, index job.State, maxScore float64, limit int) ([]id.JobID, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(maxScore),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, indexKey(queue, string(index)), by).Result()
	if err != nil {
		return nil, wrap("range jobs", err)
	}

	ids := make([]id.JobID, 0, len(members))
	for _, m := range members {
		jobID, err := id.ParseJobID(m)
		if err != nil {
			s.logger.Warn("skipping malformed index member",
				slog.String("queue", queue),
				slog.String("index", string(index)),
				slog.String("member", m),
			)
			continue
		}
		ids = append(ids, jobID)
	}
	return ids, nil
}

// DeleteJob removes a job still held in the from index.
func (s *Store) DeleteJob(ctx context.Context, queue string, jobID id.JobID, from job.State) error {
	jID := jobID.String()
	n, err := deleteScript.Run(ctx, s.client,
		[]string{jobKey(queue, jID), indexKey(queue, string(from))},
		jID, string(from),
	).Int()
	if err != nil {
		return wrap("delete job", err)
	}
	return moveResult(n)
}

// CountJobs sizes every index of a queue in one round trip.
func (s *Store) CountJobs(ctx context.Context, queue string) (job.Counts, error) {
	var c job.Counts
	cmds := make([]*goredis.IntCmd, len(job.States))
	_, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, st := range job.States {
			cmds[i] = p.ZCard(ctx, indexKey(queue, string(st)))
		}
		return nil
	})
	if err != nil {
		return c, wrap("count jobs", err)
	}
	for i, st := range job.States {
		c.Add(st, cmds[i].Val())
	}
	return c, nil
}

// ListQueues returns every queue that has held a job, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	queues, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, wrap("list queues", err)
	}
	sort.Strings(queues)
	return queues, nil
}

func moveResult(n int) error {
	switch n {
	case 1:
		return nil
	case 0:
		return backlog.ErrJobMoved
	default:
		return backlog.ErrJobNotFound
	}
}

// scoreArg is the score of j outside the waiting index.
func scoreArg(j *job.Job) string {
	if j.State == job.StateWaiting {
		return "0"
	}
	return formatScore(job.IndexScore(j))
}

func waitingArg(s job.State) string {
	if s == job.StateWaiting {
		return "1"
	}
	return "0"
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
