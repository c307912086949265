package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

func reportJob(attempt, maxAttempts int) *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     "render-report",
		Queue:    "reports",
		Attempts: attempt,
		Options:  job.Options{MaxAttempts: maxAttempts},
	}
}

// blockUntil returns a handler that waits for release, ignoring its context.
func blockUntil(release <-chan struct{}) middleware.Handler {
	return func(context.Context) ([]byte, error) {
		<-release
		return []byte("late"), nil
	}
}

func tracer() (*tracetest.SpanRecorder, trace.Tracer) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return rec, tp.Tracer("backlog-test")
}

func intAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (int64, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsInt64(), true
		}
	}
	return 0, false
}

func TestTracing_ResultPassesThrough(t *testing.T) {
	rec, tr := tracer()
	j := reportJob(1, 3)

	var inner trace.SpanContext
	res, err := middleware.TracingWithTracer(tr)(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return []byte(`{"rows":42}`), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `{"rows":42}` {
		t.Fatalf("result = %q, want it unchanged", res)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}
	if inner.SpanID() != spans[0].SpanContext().SpanID() {
		t.Error("handler did not run inside the attempt span")
	}
}

func TestTracing_AttemptAttributesFollowRetries(t *testing.T) {
	rec, tr := tracer()
	mw := middleware.TracingWithTracer(tr)
	j := reportJob(1, 3)

	_, _ = mw(context.Background(), j, func(context.Context) ([]byte, error) {
		return nil, errors.New("upstream 503")
	})
	// The worker bumps Attempts before the retry runs.
	j.Attempts++
	_, _ = mw(context.Background(), j, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended %d spans, want one per attempt", len(spans))
	}
	for i, want := range []struct {
		attempt int64
		code    codes.Code
	}{{1, codes.Error}, {2, codes.Ok}} {
		got, ok := intAttr(spans[i], "backlog.attempt")
		if !ok || got != want.attempt {
			t.Errorf("span %d: backlog.attempt = %d (present %v), want %d", i, got, ok, want.attempt)
		}
		if limit, _ := intAttr(spans[i], "backlog.max_attempts"); limit != 3 {
			t.Errorf("span %d: backlog.max_attempts = %d, want 3", i, limit)
		}
		if spans[i].Status().Code != want.code {
			t.Errorf("span %d: status = %v, want %v", i, spans[i].Status().Code, want.code)
		}
	}
}

func TestTracing_TimeoutRecordsErrorSpan(t *testing.T) {
	rec, tr := tracer()
	j := reportJob(1, 3)
	j.Options.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	chain := middleware.Chain(middleware.TracingWithTracer(tr), middleware.Timeout(slog.Default()))
	res, err := chain(context.Background(), j, blockUntil(release))
	if !errors.Is(err, backlog.ErrHandlerTimeout) {
		t.Fatalf("err = %v, want ErrHandlerTimeout", err)
	}
	if res != nil {
		t.Errorf("result = %q, want none from an abandoned handler", res)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended %d spans, want 1", len(spans))
	}
	if st := spans[0].Status(); st.Code != codes.Error || st.Description != err.Error() {
		t.Errorf("status = %v %q, want Error %q", st.Code, st.Description, err.Error())
	}
	var exception bool
	for _, ev := range spans[0].Events() {
		exception = exception || ev.Name == "exception"
	}
	if !exception {
		t.Error("timeout was not recorded as an exception event")
	}
}
