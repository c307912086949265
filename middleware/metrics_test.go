package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/middleware"
)

// meter returns metrics middleware backed by a manual reader.
func meter() (*sdkmetric.ManualReader, middleware.Middleware) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, middleware.MetricsWithMeter(mp.Meter("backlog-test"))
}

// executionsByStatus collects backlog.job.executions keyed by status.
func executionsByStatus(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "backlog.job.executions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("executions is %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				queue, _ := dp.Attributes.Value(attribute.Key("queue"))
				if queue.AsString() != "reports" {
					t.Errorf("queue attribute = %q, want reports", queue.AsString())
				}
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_ResultPassesThrough(t *testing.T) {
	reader, mw := meter()

	res, err := mw(context.Background(), reportJob(1, 3), func(context.Context) ([]byte, error) {
		return []byte(`{"rows":42}`), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `{"rows":42}` {
		t.Fatalf("result = %q, want it unchanged", res)
	}
	if got := executionsByStatus(t, reader); got["ok"] != 1 || len(got) != 1 {
		t.Errorf("executions = %v, want ok:1", got)
	}
}

func TestMetrics_RetriesCountedPerStatus(t *testing.T) {
	reader, mw := meter()
	j := reportJob(1, 3)

	for _, fail := range []bool{true, true, false} {
		_, _ = mw(context.Background(), j, func(context.Context) ([]byte, error) {
			if fail {
				return nil, errors.New("upstream 503")
			}
			return []byte("ok"), nil
		})
		j.Attempts++
	}

	got := executionsByStatus(t, reader)
	if got["error"] != 2 || got["ok"] != 1 {
		t.Errorf("executions = %v, want error:2 ok:1", got)
	}
}

func TestMetrics_TimeoutRecordedAsError(t *testing.T) {
	reader, metrics := meter()
	j := reportJob(1, 3)
	j.Options.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	chain := middleware.Chain(metrics, middleware.Timeout(slog.Default()))
	if _, err := chain(context.Background(), j, blockUntil(release)); !errors.Is(err, backlog.ErrHandlerTimeout) {
		t.Fatalf("err = %v, want ErrHandlerTimeout", err)
	}

	if got := executionsByStatus(t, reader); got["error"] != 1 || got["ok"] != 0 {
		t.Errorf("executions = %v, want error:1", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if m.Name != "backlog.job.duration" || !ok {
				continue
			}
			if len(hist.DataPoints) != 1 {
				t.Fatalf("duration has %d points, want 1", len(hist.DataPoints))
			}
			if hist.DataPoints[0].Sum < j.Options.Timeout.Seconds() {
				t.Errorf("duration %.3fs shorter than the %s timeout", hist.DataPoints[0].Sum, j.Options.Timeout)
			}
			return
		}
	}
	t.Fatal("backlog.job.duration not recorded")
}
