package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/observability"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newTestJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), Type: "send-email", Queue: "default"}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := observability.NewMetricsExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_CountsLifecycle(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Millisecond)
	_ = e.OnJobRetrying(ctx, j, 1, time.Now())
	_ = e.OnJobFailed(ctx, j, errors.New("x"))
	_ = e.OnRecurringFired(ctx, "default:send-email", j.ID)
	_ = e.OnCacheInvalidated(ctx, "user:*", "local", 2, true)

	rm := collect(t, reader)
	want := map[string]int64{
		"backlog.job.enqueued":      2,
		"backlog.job.started":       1,
		"backlog.job.completed":     1,
		"backlog.job.retried":       1,
		"backlog.job.failed":        1,
		"backlog.recurring.fired":   1,
		"backlog.cache.invalidated": 1,
	}
	for name, n := range want {
		if got := sumOf(rm, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

type fakeCounts map[string]job.Counts

func (f fakeCounts) ListQueues(context.Context) ([]string, error) {
	out := make([]string, 0, len(f))
	for q := range f {
		out = append(out, q)
	}
	return out, nil
}

func (f fakeCounts) CountJobs(_ context.Context, q string) (job.Counts, error) {
	return f[q], nil
}

func TestRegisterQueueDepth(t *testing.T) {
	reader, mp := setupTestMeter()
	src := fakeCounts{
		"default": {Waiting: 3, Active: 1},
		"email":   {Delayed: 2},
	}
	reg, err := observability.RegisterQueueDepth(mp.Meter("test"), src)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Unregister() }()

	rm := collect(t, reader)
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "backlog.queue.depth" {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range g.DataPoints {
				q, _ := dp.Attributes.Value("queue")
				s, _ := dp.Attributes.Value("state")
				got[q.AsString()+"/"+s.AsString()] = dp.Value
			}
		}
	}

	if got["default/waiting"] != 3 || got["default/active"] != 1 || got["email/delayed"] != 2 {
		t.Errorf("depth = %v", got)
	}
	if len(got) != 10 {
		t.Errorf("expected 10 series, got %d", len(got))
	}
}
