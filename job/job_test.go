package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

func TestNew_Defaults(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	j, err := job.New("default", "report", []byte(`{}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if j.State != job.StateWaiting {
		t.Errorf("state = %q, want waiting", j.State)
	}
	if j.Options.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", j.Options.MaxAttempts)
	}
	if j.Options.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", j.Options.Timeout)
	}
	if j.ID.IsNil() || !j.CreatedAt.Equal(now) {
		t.Errorf("id=%q created=%v", j.ID, j.CreatedAt)
	}
}

func TestNew_Delayed(t *testing.T) {
	now := time.Now()
	j, err := job.New("default", "report", nil, now, job.WithDelay(time.Minute), job.WithPriority(4))
	if err != nil {
		t.Fatal(err)
	}
	if j.State != job.StateDelayed {
		t.Errorf("state = %q, want delayed", j.State)
	}
	if !j.RunAt.Equal(now.UTC().Add(time.Minute)) {
		t.Errorf("run at = %v", j.RunAt)
	}
	if j.Options.Priority != 4 {
		t.Errorf("priority = %d", j.Options.Priority)
	}
}

func TestNew_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		queue string
		typ   job.Type
		opts  []job.Option
	}{
		{"empty queue", "", "x", nil},
		{"empty type", "q", "", nil},
		{"zero attempts", "q", "x", []job.Option{job.WithMaxAttempts(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := job.New(tc.queue, tc.typ, nil, time.Now(), tc.opts...)
			if !errors.Is(err, backlog.ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	j, _ := job.New("q", "t", []byte("abc"), now)
	j.ProcessedAt = &now

	cp := j.Clone()
	cp.Payload[0] = 'z'
	later := now.Add(time.Hour)
	*cp.ProcessedAt = later

	if string(j.Payload) != "abc" {
		t.Errorf("payload mutated through clone: %q", j.Payload)
	}
	if !j.ProcessedAt.Equal(now) {
		t.Error("processed_at mutated through clone")
	}
}

func TestValidTransition(t *testing.T) {
	allowed := [][2]job.State{
		{job.StateDelayed, job.StateWaiting},
		{job.StateWaiting, job.StateActive},
		{job.StateActive, job.StateCompleted},
		{job.StateActive, job.StateDelayed},
		{job.StateActive, job.StateFailed},
		{job.StateActive, job.StateWaiting},
	}
	for _, tr := range allowed {
		if !job.ValidTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]job.State{
		{job.StateWaiting, job.StateCompleted},
		{job.StateDelayed, job.StateActive},
		{job.StateCompleted, job.StateWaiting},
		{job.StateFailed, job.StateDelayed},
	}
	for _, tr := range denied {
		if job.ValidTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be denied", tr[0], tr[1])
		}
	}
}

func TestWaitingScore_Ordering(t *testing.T) {
	high := job.WaitingScore(5, 10)
	low := job.WaitingScore(1, 1)
	if high >= low {
		t.Errorf("priority 5 should sort before priority 1: %v >= %v", high, low)
	}
	first := job.WaitingScore(3, 1)
	second := job.WaitingScore(3, 2)
	if first >= second {
		t.Errorf("earlier seq should sort first: %v >= %v", first, second)
	}
	if job.WaitingScore(5000, 1) != job.WaitingScore(job.MaxPriority, 1) {
		t.Error("priority should be clamped")
	}
}

func TestIndexScore(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	j := &job.Job{State: job.StateCompleted, CompletedAt: &now}
	if got := job.IndexScore(j); got != 1_700_000_000_000 {
		t.Errorf("score = %v", got)
	}
	j = &job.Job{State: job.StateDelayed, RunAt: now}
	if got := job.IndexScore(j); got != 1_700_000_000_000 {
		t.Errorf("score = %v", got)
	}
}
