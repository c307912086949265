// Package storetest is a conformance suite run against every store
// backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store"
)

// Factory returns a fresh, migrated, empty store. The factory owns cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("WaitingOrder", func(t *testing.T) { testWaitingOrder(t, newStore(t)) })
	t.Run("DelayedRange", func(t *testing.T) { testDelayedRange(t, newStore(t)) })
	t.Run("MoveJob", func(t *testing.T) { testMoveJob(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("PromotionSequence", func(t *testing.T) { testPromotionSequence(t, newStore(t)) })
	t.Run("DeleteJob", func(t *testing.T) { testDeleteJob(t, newStore(t)) })
	t.Run("CountsAndQueues", func(t *testing.T) { testCountsAndQueues(t, newStore(t)) })
	t.Run("Recurring", func(t *testing.T) { testRecurring(t, newStore(t)) })
	t.Run("AdvanceRecurring", func(t *testing.T) { testAdvanceRecurring(t, newStore(t)) })
	t.Run("ReplaceRecurring", func(t *testing.T) { testReplaceRecurring(t, newStore(t)) })
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newJob(t *testing.T, queue string, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.New(queue, "email.send", []byte(`{"to":"a@b.c"}`), base, opts...)
	require.NoError(t, err)
	return j
}

func create(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), j))
}

func claim(t *testing.T, s store.Store, j *job.Job, at time.Time) {
	t.Helper()
	j.State = job.StateActive
	j.Attempts++
	j.ProcessedAt = &at
	require.NoError(t, s.MoveJob(context.Background(), j, job.StateWaiting))
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, "default", job.WithPriority(5))
	create(t, s, j)

	got, err := s.GetJob(ctx, "default", j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID.String(), got.ID.String())
	assert.Equal(t, job.StateWaiting, got.State)
	assert.Equal(t, j.Type, got.Type)
	assert.Equal(t, j.Payload, got.Payload)
	assert.Equal(t, 5, got.Options.Priority)
	assert.True(t, j.CreatedAt.Equal(got.CreatedAt))

	err = s.CreateJob(ctx, j)
	assert.ErrorIs(t, err, backlog.ErrJobAlreadyExists)

	_, err = s.GetJob(ctx, "default", id.NewJobID())
	assert.ErrorIs(t, err, backlog.ErrJobNotFound)

	// Same id in another queue is a different record.
	_, err = s.GetJob(ctx, "other", j.ID)
	assert.ErrorIs(t, err, backlog.ErrJobNotFound)

	// Mutating the returned copy must not change the store.
	got.Payload[0] = 'X'
	again, err := s.GetJob(ctx, "default", j.ID)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), again.Payload[0])
}

func testWaitingOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := newJob(t, "q", job.WithPriority(1))
	highA := newJob(t, "q", job.WithPriority(10))
	mid := newJob(t, "q")
	highB := newJob(t, "q", job.WithPriority(10))
	neg := newJob(t, "q", job.WithPriority(-3))
	for _, j := range []*job.Job{low, highA, mid, highB, neg} {
		create(t, s, j)
	}

	ids, err := s.RangeByScore(ctx, "q", job.StateWaiting, job.MaxScore, 0)
	require.NoError(t, err)
	want := []*job.Job{highA, highB, low, mid, neg}
	require.Len(t, ids, len(want))
	for i, j := range want {
		assert.Equal(t, j.ID.String(), ids[i].String(), "position %d", i)
	}

	ids, err = s.RangeByScore(ctx, "q", job.StateWaiting, job.MaxScore, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, highA.ID.String(), ids[0].String())
}

func testDelayedRange(t *testing.T, s store.Store) {
	ctx := context.Background()
	late := newJob(t, "q", job.WithDelay(time.Hour))
	soon := newJob(t, "q", job.WithDelay(time.Minute))
	create(t, s, late)
	create(t, s, soon)
	assert.Equal(t, job.StateDelayed, soon.State)

	ids, err := s.RangeByScore(ctx, "q", job.StateDelayed, job.TimeScore(base.Add(10*time.Minute)), 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, soon.ID.String(), ids[0].String())

	ids, err = s.RangeByScore(ctx, "q", job.StateDelayed, job.MaxScore, 0)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, soon.ID.String(), ids[0].String())
	assert.Equal(t, late.ID.String(), ids[1].String())

	ids, err = s.RangeByScore(ctx, "q", job.StateWaiting, job.MaxScore, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testMoveJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, "q")
	create(t, s, j)
	claim(t, s, j, base.Add(time.Second))

	got, err := s.GetJob(ctx, "q", j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateActive, got.State)
	assert.Equal(t, 1, got.Attempts)

	// A second claim from waiting lost the race.
	stale := got.Clone()
	err = s.MoveJob(ctx, stale, job.StateWaiting)
	assert.ErrorIs(t, err, backlog.ErrJobMoved)

	// Waiting cannot jump straight to completed.
	bad := got.Clone()
	bad.State = job.StateCompleted
	err = s.MoveJob(ctx, bad, job.StateWaiting)
	assert.ErrorIs(t, err, backlog.ErrInvalidTransition)

	done := got.Clone()
	done.State = job.StateCompleted
	doneAt := base.Add(2 * time.Second)
	done.CompletedAt = &doneAt
	done.Result = []byte(`"ok"`)
	require.NoError(t, s.MoveJob(ctx, done, job.StateActive))

	for _, st := range []job.State{job.StateWaiting, job.StateActive} {
		ids, err := s.RangeByScore(ctx, "q", st, job.MaxScore, 0)
		require.NoError(t, err)
		assert.Empty(t, ids, st)
	}
	ids, err := s.RangeByScore(ctx, "q", job.StateCompleted, job.MaxScore, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	got, err = s.GetJob(ctx, "q", j.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"ok"`), got.Result)

	missing := newJob(t, "q")
	missing.State = job.StateActive
	err = s.MoveJob(ctx, missing, job.StateWaiting)
	assert.ErrorIs(t, err, backlog.ErrJobNotFound)
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, "q")
	create(t, s, j)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := j.Clone()
			c.State = job.StateActive
			c.Attempts = 1
			if err := s.MoveJob(ctx, c, job.StateWaiting); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, backlog.ErrJobMoved)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testPromotionSequence(t *testing.T, s store.Store) {
	ctx := context.Background()
	delayed := newJob(t, "q", job.WithDelay(time.Second))
	create(t, s, delayed)
	first := newJob(t, "q")
	create(t, s, first)

	delayed.State = job.StateWaiting
	require.NoError(t, s.MoveJob(ctx, delayed, job.StateDelayed))

	ids, err := s.RangeByScore(ctx, "q", job.StateWaiting, job.MaxScore, 0)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, first.ID.String(), ids[0].String())
	assert.Equal(t, delayed.ID.String(), ids[1].String())
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, "q")
	create(t, s, j)

	err := s.DeleteJob(ctx, "q", j.ID, job.StateCompleted)
	assert.ErrorIs(t, err, backlog.ErrJobMoved)

	require.NoError(t, s.DeleteJob(ctx, "q", j.ID, job.StateWaiting))
	_, err = s.GetJob(ctx, "q", j.ID)
	assert.ErrorIs(t, err, backlog.ErrJobNotFound)

	err = s.DeleteJob(ctx, "q", j.ID, job.StateWaiting)
	assert.ErrorIs(t, err, backlog.ErrJobNotFound)
}

func testCountsAndQueues(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, newJob(t, "b"))
	create(t, s, newJob(t, "b"))
	create(t, s, newJob(t, "b", job.WithDelay(time.Minute)))
	active := newJob(t, "b")
	create(t, s, active)
	claim(t, s, active, base)
	create(t, s, newJob(t, "a"))

	c, err := s.CountJobs(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, job.Counts{Waiting: 2, Active: 1, Delayed: 1}, c)

	c, err = s.CountJobs(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, job.Counts{}, c)

	queues, err := s.ListQueues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, queues)
}

func newDefinition(queue string, typ job.Type) *cron.Definition {
	return &cron.Definition{
		Queue:     queue,
		Type:      typ,
		Payload:   []byte(`{}`),
		Schedule:  "*/5 * * * *",
		Options:   job.DefaultOptions(),
		NextRunAt: base.Add(5 * time.Minute),
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func testRecurring(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newDefinition("reports", "daily")
	a := newDefinition("alerts", "sweep")
	require.NoError(t, s.SaveRecurring(ctx, b))
	require.NoError(t, s.SaveRecurring(ctx, a))

	got, err := s.GetRecurring(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, b.Schedule, got.Schedule)
	assert.True(t, b.NextRunAt.Equal(got.NextRunAt))
	assert.Nil(t, got.LastRunAt)

	b.Schedule = "0 * * * *"
	require.NoError(t, s.SaveRecurring(ctx, b))
	got, err = s.GetRecurring(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", got.Schedule)

	all, err := s.ListRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alerts:sweep", all[0].Key())
	assert.Equal(t, "reports:daily", all[1].Key())

	require.NoError(t, s.DeleteRecurring(ctx, a.Key()))
	_, err = s.GetRecurring(ctx, a.Key())
	assert.ErrorIs(t, err, backlog.ErrRecurringNotFound)
	assert.ErrorIs(t, s.DeleteRecurring(ctx, a.Key()), backlog.ErrRecurringNotFound)
}

func testAdvanceRecurring(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := newDefinition("reports", "daily")
	require.NoError(t, s.SaveRecurring(ctx, d))

	next := d.NextRunAt.Add(5 * time.Minute)
	ran := d.NextRunAt

	ok, err := s.AdvanceRecurring(ctx, d.Key(), d.NextRunAt, next, &ran)
	require.NoError(t, err)
	assert.True(t, ok)

	// The same swap again loses: NextRunAt has moved on.
	ok, err = s.AdvanceRecurring(ctx, d.Key(), d.NextRunAt, next, &ran)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRecurring(ctx, d.Key())
	require.NoError(t, err)
	assert.True(t, next.Equal(got.NextRunAt))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, ran.Equal(*got.LastRunAt))

	// Rolling back restores the previous values.
	ok, err = s.AdvanceRecurring(ctx, d.Key(), next, d.NextRunAt, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetRecurring(ctx, d.Key())
	require.NoError(t, err)
	assert.True(t, d.NextRunAt.Equal(got.NextRunAt))
	assert.Nil(t, got.LastRunAt)

	ok, err = s.AdvanceRecurring(ctx, "missing:key", base, next, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testReplaceRecurring(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := newDefinition("reports", "daily")
	require.NoError(t, s.SaveRecurring(ctx, d))

	// A sweep advances the definition first.
	prev := d.NextRunAt
	next := prev.Add(5 * time.Minute)
	ok, err := s.AdvanceRecurring(ctx, d.Key(), prev, next, &prev)
	require.NoError(t, err)
	require.True(t, ok)

	// A replace keyed on the stale NextRunAt loses.
	stale := d.Clone()
	stale.Payload = []byte(`{"v":2}`)
	ok, err = s.ReplaceRecurring(ctx, stale, prev)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRecurring(ctx, d.Key())
	require.NoError(t, err)
	assert.True(t, next.Equal(got.NextRunAt))
	require.NotNil(t, got.LastRunAt)

	// Keyed on the current value it wins and keeps what it was given.
	fresh := got.Clone()
	fresh.Payload = []byte(`{"v":2}`)
	ok, err = s.ReplaceRecurring(ctx, fresh, got.NextRunAt)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetRecurring(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got.Payload)
	assert.True(t, next.Equal(got.NextRunAt))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, prev.Equal(*got.LastRunAt))

	missing := newDefinition("alerts", "sweep")
	ok, err = s.ReplaceRecurring(ctx, missing, missing.NextRunAt)
	require.NoError(t, err)
	assert.False(t, ok)
}
