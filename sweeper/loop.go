package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepFunc runs one pass and reports how many jobs it touched.
type sweepFunc func(ctx context.Context, now time.Time) (int, error)

// ticker runs a sweep immediately on Start and then every interval.
type ticker struct {
	name     string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	sweep    sweepFunc

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Start launches the sweep loop.
func (t *ticker) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.running = true
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go t.loop(t.stopCh)
	t.logger.Info(t.name+" started", slog.Duration("interval", t.interval))
	return nil
}

// Stop signals the loop and waits for the sweep in progress.
func (t *ticker) Stop(_ context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info(t.name + " stopped")
	return nil
}

func (t *ticker) loop(stopCh <-chan struct{}) {
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		n, err := t.sweep(ctx, t.now())
		switch {
		case err != nil && ctx.Err() == nil:
			t.logger.Error(t.name+" sweep error", slog.String("error", err.Error()))
		case n > 0:
			t.logger.Debug(t.name+" sweep", slog.Int("jobs", n))
		}
		select {
		case <-stopCh:
			return
		case <-tick.C:
		}
	}
}
