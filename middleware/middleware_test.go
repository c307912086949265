package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw1-before")
		res, err := next(ctx)
		order = append(order, "mw1-after")
		return res, err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw2-before")
		res, err := next(ctx)
		order = append(order, "mw2-after")
		return res, err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Type: "test", ID: id.NewJobID()}
	res, err := chain(context.Background(), j, func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != "ok" {
		t.Errorf("result = %q, want ok", res)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("order = %v, want %v", order, expected)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	_, err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		return next(ctx)
	}
	want := errors.New("handler error")

	_, err := middleware.Chain(pass)(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Type: "panicky", ID: id.NewJobID()}

	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in job panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	res, err := mw(context.Background(), &job.Job{Type: "normal", ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		return []byte("r"), nil
	})
	if err != nil || string(res) != "r" {
		t.Fatalf("res=%q err=%v", res, err)
	}
}

func TestLogging_PassesResultAndError(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := &job.Job{Type: "log-test", ID: id.NewJobID(), Queue: "default"}

	res, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return []byte("r"), nil
	})
	if err != nil || string(res) != "r" {
		t.Fatalf("res=%q err=%v", res, err)
	}

	want := errors.New("fail")
	if _, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return nil, want
	}); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_HandlerFinishesInTime(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "quick", ID: id.NewJobID(), Options: job.Options{Timeout: time.Second}}

	res, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return []byte("done"), nil
	})
	if err != nil || string(res) != "done" {
		t.Fatalf("res=%q err=%v", res, err)
	}
}

func TestTimeout_AbandonsSlowHandler(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "slow", ID: id.NewJobID(), Options: job.Options{Timeout: 20 * time.Millisecond}}

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	res, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		// Ignores cancellation on purpose.
		<-release
		return []byte("late"), nil
	})
	if !errors.Is(err, backlog.ErrHandlerTimeout) {
		t.Fatalf("expected ErrHandlerTimeout, got %v", err)
	}
	if res != nil {
		t.Errorf("expected discarded result, got %q", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestTimeout_CancelsHandlerContext(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "coop", ID: id.NewJobID(), Options: job.Options{Timeout: 20 * time.Millisecond}}

	var cancelled atomic.Bool
	stopped := make(chan struct{})
	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		defer close(stopped)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	if !errors.Is(err, backlog.ErrHandlerTimeout) {
		t.Fatalf("expected ErrHandlerTimeout, got %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("handler never observed cancellation")
	}
	if !cancelled.Load() {
		t.Error("expected handler context to be cancelled")
	}
}

func TestTimeout_RecoversPanicInRacedHandler(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "boom", ID: id.NewJobID(), Options: job.Options{Timeout: time.Second}}

	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		panic("kaboom")
	})
	if err == nil || err.Error() != "panic in job boom: kaboom" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_ZeroMeansUnlimited(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "unbounded", ID: id.NewJobID()}

	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTimeout_ParentCancellation(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "abandon", ID: id.NewJobID(), Options: job.Options{Timeout: time.Minute}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := mw(ctx, j, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
