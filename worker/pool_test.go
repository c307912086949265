package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/worker"
)

func setupTestPool(t *testing.T, workers int, extensions *ext.Registry) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry(logger)

	executor := worker.NewExecutor(reg, extensions, s, logger,
		worker.WithMiddleware(middleware.Recover(logger), middleware.Timeout(logger)),
	)
	pool := worker.NewPool(s, executor, queue.NewManager(workers), logger,
		worker.WithPollInterval(10*time.Millisecond),
	)
	pool.Serve("default")
	return pool, s, reg
}

func enqueue(t *testing.T, s *memory.Store, typ job.Type, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.New("default", typ, nil, time.Now(), opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func waitForState(t *testing.T, s *memory.Store, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		got, err := s.GetJob(context.Background(), "default", jobID)
		if err == nil && got.State == want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)
	// Double stop should be no-op.
	stopPool(t, pool)
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)
	reg.Register("greet", func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("hello"), nil
	})

	j := enqueue(t, s, "greet")
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	got := waitForState(t, s, j.ID, job.StateCompleted)
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if string(got.Result) != "hello" {
		t.Errorf("result = %q, want hello", got.Result)
	}
	if got.ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}
}

func TestPool_SucceedsOnKthAttempt(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var calls atomic.Int32
	reg.Register("flaky", func(context.Context, []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return []byte("ok"), nil
	})

	j := enqueue(t, s, "flaky", job.WithMaxAttempts(5), job.WithFixedBackoff(0))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	// With no promoter running, each retry parks in delayed; promote by hand.
	deadline := time.After(5 * time.Second)
	for {
		got, _ := s.GetJob(context.Background(), "default", j.ID)
		if got.State == job.StateCompleted {
			if got.Attempts != 3 {
				t.Fatalf("attempts = %d, want 3", got.Attempts)
			}
			return
		}
		if got.State == job.StateDelayed {
			got.State = job.StateWaiting
			_ = s.MoveJob(context.Background(), got, job.StateDelayed)
			pool.Notify("default")
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	reg.Register("record", func(_ context.Context, p []byte) ([]byte, error) {
		mu.Lock()
		order = append(order, string(p))
		mu.Unlock()
		return nil, nil
	})

	for _, tc := range []struct {
		name     string
		priority int
	}{{"B", 1}, {"A", 5}, {"C", 1}} {
		j, _ := job.New("default", "record", []byte(tc.name), time.Now(), job.WithPriority(tc.priority))
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for jobs")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	stopPool(t, pool)

	want := []string{"A", "B", "C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPool_EachJobRunsOnce(t *testing.T) {
	pool, s, reg := setupTestPool(t, 8, nil)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	reg.Register("count", func(_ context.Context, p []byte) ([]byte, error) {
		mu.Lock()
		seen[string(p)]++
		mu.Unlock()
		return nil, nil
	})

	const n = 100
	ids := make([]id.JobID, 0, n)
	for i := range n {
		j, _ := job.New("default", "count", []byte{byte(i)}, time.Now())
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids = append(ids, j.ID)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	for _, jobID := range ids {
		waitForState(t, s, jobID, job.StateCompleted)
	}
	stopPool(t, pool)

	if len(seen) != n {
		t.Fatalf("ran %d distinct jobs, want %d", len(seen), n)
	}
	for k, c := range seen {
		if c != 1 {
			t.Fatalf("job %v ran %d times", []byte(k), c)
		}
	}
}

func TestPool_ShutdownAbandonsStuckJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	reg.Register("stuck", func(context.Context, []byte) ([]byte, error) {
		close(started)
		<-release
		return nil, nil
	})

	j := enqueue(t, s, "stuck", job.WithTimeout(time.Minute))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("Stop did not return after the grace period")
	}

	// Give the abandoned attempt a moment to observe cancellation.
	time.Sleep(50 * time.Millisecond)
	got, _ := s.GetJob(context.Background(), "default", j.ID)
	if got.State != job.StateActive {
		t.Fatalf("state = %q, want active", got.State)
	}
}

type countingExt struct {
	started   atomic.Int32
	completed atomic.Int32
}

func (e *countingExt) Name() string { return "counting" }

func (e *countingExt) OnJobStarted(context.Context, *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *countingExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.completed.Add(1)
	return nil
}

func TestPool_ExtensionFires(t *testing.T) {
	extensions := ext.NewRegistry(slog.Default())
	hook := &countingExt{}
	extensions.Register(hook)

	pool, s, reg := setupTestPool(t, 1, extensions)
	reg.Register("noop", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	j := enqueue(t, s, "noop")
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	if hook.started.Load() != 1 || hook.completed.Load() != 1 {
		t.Fatalf("started=%d completed=%d, want 1/1", hook.started.Load(), hook.completed.Load())
	}
}

func TestPool_ServeWhileRunning(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)
	reg.Register("noop", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	j, _ := job.New("late", "noop", nil, time.Now())
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	pool.Serve("late")

	deadline := time.After(5 * time.Second)
	for {
		got, _ := s.GetJob(context.Background(), "late", j.ID)
		if got != nil && got.State == job.StateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("late queue was not served")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if qs := pool.Queues(); len(qs) != 2 || qs[0] != "default" || qs[1] != "late" {
		t.Fatalf("queues = %v", qs)
	}
}
