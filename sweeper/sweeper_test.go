package sweeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/sweeper"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func create(t *testing.T, s *memory.Store, queue string, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.New(queue, "noop", nil, t0, opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func state(t *testing.T, s *memory.Store, j *job.Job) job.State {
	t.Helper()
	got, err := s.GetJob(context.Background(), j.Queue, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got.State
}

// finish drives a waiting job through active to a terminal state at at.
func finish(t *testing.T, s *memory.Store, j *job.Job, to job.State, at time.Time) {
	t.Helper()
	ctx := context.Background()
	j.State = job.StateActive
	j.Attempts = 1
	j.ProcessedAt = &at
	if err := s.MoveJob(ctx, j, job.StateWaiting); err != nil {
		t.Fatalf("claim: %v", err)
	}
	j.State = to
	if to == job.StateCompleted {
		j.CompletedAt = &at
	} else {
		j.FailedAt = &at
	}
	if err := s.MoveJob(ctx, j, job.StateActive); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestPromoter_MovesOnlyDueJobs(t *testing.T) {
	s := memory.New()
	due := create(t, s, "default", job.WithDelay(time.Minute), job.WithPriority(3))
	later := create(t, s, "default", job.WithDelay(time.Hour))
	other := create(t, s, "other", job.WithDelay(time.Second))

	var notified []string
	p := sweeper.NewPromoter(s, nil, sweeper.WithPromotedHook(func(q string) {
		notified = append(notified, q)
	}))

	n, err := p.Sweep(context.Background(), t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("promoted %d, want 2", n)
	}
	if state(t, s, due) != job.StateWaiting || state(t, s, other) != job.StateWaiting {
		t.Fatal("due jobs were not promoted")
	}
	if state(t, s, later) != job.StateDelayed {
		t.Fatal("job promoted before its RunAt")
	}
	if len(notified) != 2 {
		t.Fatalf("notified %v, want both queues", notified)
	}

	got, _ := s.GetJob(context.Background(), "default", due.ID)
	if got.Options.Priority != 3 {
		t.Fatalf("priority changed to %d", got.Options.Priority)
	}
}

func TestPromoter_PromotedJobQueuesBehindExistingTies(t *testing.T) {
	s := memory.New()
	delayed := create(t, s, "default", job.WithDelay(time.Second))
	waiting := create(t, s, "default")

	p := sweeper.NewPromoter(s, nil)
	if _, err := p.Sweep(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	ids, _ := s.RangeByScore(context.Background(), "default", job.StateWaiting, job.MaxScore, 0)
	if len(ids) != 2 || ids[0].String() != waiting.ID.String() || ids[1].String() != delayed.ID.String() {
		t.Fatalf("waiting order = %v", ids)
	}
}

func TestPromoter_BatchLimit(t *testing.T) {
	s := memory.New()
	for range 5 {
		create(t, s, "default", job.WithDelay(time.Second))
	}
	p := sweeper.NewPromoter(s, nil, sweeper.WithPromoteBatch(2))

	n, _ := p.Sweep(context.Background(), t0.Add(time.Minute))
	if n != 2 {
		t.Fatalf("first sweep promoted %d, want 2", n)
	}
	c, _ := s.CountJobs(context.Background(), "default")
	if c.Delayed != 3 || c.Waiting != 2 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestPromoter_StaleActive(t *testing.T) {
	s := memory.New()
	j := create(t, s, "default")
	claimed := t0
	j.State = job.StateActive
	j.Attempts = 1
	j.ProcessedAt = &claimed
	if err := s.MoveJob(context.Background(), j, job.StateWaiting); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Disabled by default: the job stays active.
	if _, err := sweeper.NewPromoter(s, nil).Sweep(context.Background(), t0.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if state(t, s, j) != job.StateActive {
		t.Fatal("active job requeued without StaleActiveAfter")
	}

	p := sweeper.NewPromoter(s, nil, sweeper.WithStaleActiveAfter(10*time.Minute))
	if n, _ := p.Sweep(context.Background(), t0.Add(5*time.Minute)); n != 0 {
		t.Fatalf("requeued %d jobs before the threshold", n)
	}
	if n, _ := p.Sweep(context.Background(), t0.Add(11*time.Minute)); n != 1 {
		t.Fatalf("requeued %d jobs, want 1", n)
	}
	got, _ := s.GetJob(context.Background(), "default", j.ID)
	if got.State != job.StateWaiting || got.Attempts != 1 {
		t.Fatalf("state=%q attempts=%d", got.State, got.Attempts)
	}
}

func TestCleaner_RetentionWindow(t *testing.T) {
	s := memory.New()
	oldDone := create(t, s, "default")
	finish(t, s, oldDone, job.StateCompleted, t0.Add(-8*24*time.Hour))
	oldFailed := create(t, s, "default")
	finish(t, s, oldFailed, job.StateFailed, t0.Add(-10*24*time.Hour))
	fresh := create(t, s, "default")
	finish(t, s, fresh, job.StateCompleted, t0.Add(-24*time.Hour))
	pending := create(t, s, "default")

	c := sweeper.NewCleaner(s, nil, sweeper.WithRetention(7*24*time.Hour), sweeper.WithCleanupBatch(1))
	n, err := c.Sweep(context.Background(), t0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}

	for _, j := range []*job.Job{oldDone, oldFailed} {
		if _, err := s.GetJob(context.Background(), "default", j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
			t.Fatalf("expired job still present: %v", err)
		}
	}
	for _, j := range []*job.Job{fresh, pending} {
		if _, err := s.GetJob(context.Background(), "default", j.ID); err != nil {
			t.Fatalf("job within retention removed: %v", err)
		}
	}
}

// orphanedIndex lists the same terminal ids forever while their records
// are already gone.
type orphanedIndex struct {
	*memory.Store
	ids     []id.JobID
	deletes int
}

func (o *orphanedIndex) RangeByScore(_ context.Context, _ string, index job.State, _ float64, limit int) ([]id.JobID, error) {
	if index != job.StateCompleted {
		return nil, nil
	}
	return o.ids[:min(limit, len(o.ids))], nil
}

func (o *orphanedIndex) DeleteJob(context.Context, string, id.JobID, job.State) error {
	o.deletes++
	return backlog.ErrJobNotFound
}

func TestCleaner_OrphanedEntriesDoNotStallSweep(t *testing.T) {
	s := memory.New()
	create(t, s, "default")
	orphans := &orphanedIndex{Store: s, ids: []id.JobID{id.NewJobID(), id.NewJobID()}}

	c := sweeper.NewCleaner(orphans, nil, sweeper.WithCleanupBatch(2))
	done := make(chan int, 1)
	go func() {
		n, _ := c.Sweep(context.Background(), t0)
		done <- n
	}()

	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("removed %d, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup kept re-reading a batch it could not delete")
	}
	if orphans.deletes != 2 {
		t.Fatalf("attempted %d deletes, want one per orphan", orphans.deletes)
	}
}

func TestTicker_StartStop(t *testing.T) {
	s := memory.New()
	create(t, s, "default", job.WithDelay(time.Millisecond))

	p := sweeper.NewPromoter(s, nil,
		sweeper.WithPromoteInterval(10*time.Millisecond),
		sweeper.WithPromoterClock(func() time.Time { return t0.Add(time.Minute) }),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		c, _ := s.CountJobs(context.Background(), "default")
		if c.Waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("promoter loop did not run")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
