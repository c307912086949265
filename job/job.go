package job

import (
	"fmt"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
)

// Type names a kind of job and selects its handler.
type Type string

// State is both the lifecycle state of a job and the per-queue index
// holding it.
type State string

const (
	// StateDelayed means the job waits for its RunAt before it can be served.
	StateDelayed State = "delayed"
	// StateWaiting means the job is ready and ordered by priority.
	StateWaiting State = "waiting"
	// StateActive means a worker loop has claimed the job.
	StateActive State = "active"
	// StateCompleted means the handler succeeded.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts or had no handler.
	StateFailed State = "failed"
)

// States lists every index in a stable order.
var States = []State{StateDelayed, StateWaiting, StateActive, StateCompleted, StateFailed}

// Valid reports whether s names a known state.
func (s State) Valid() bool {
	switch s {
	case StateDelayed, StateWaiting, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State][]State{
	StateDelayed: {StateWaiting},
	StateWaiting: {StateActive},
	// Active back to waiting is the stale-active requeue path.
	StateActive: {StateCompleted, StateDelayed, StateFailed, StateWaiting},
}

// ValidTransition reports whether a job may move from one index to another.
func ValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a unit of work bound to one queue for its lifetime.
type Job struct {
	ID      id.JobID `json:"id"`
	Queue   string   `json:"queue"`
	Type    Type     `json:"type"`
	Payload []byte   `json:"payload,omitempty"`
	Options Options  `json:"options"`

	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
	Result   []byte `json:"result,omitempty"`

	// RunAt is the due time while the job is delayed.
	RunAt time.Time `json:"run_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// New builds a job ready for Store.CreateJob. A positive Delay places it in
// the delayed index with RunAt = now + Delay, otherwise it starts waiting.
func New(queue string, typ Type, payload []byte, now time.Time, opts ...Option) (*Job, error) {
	if queue == "" {
		return nil, fmt.Errorf("%w: empty queue", backlog.ErrInvalidJob)
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: empty type", backlog.ErrInvalidJob)
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts %d", backlog.ErrInvalidJob, o.MaxAttempts)
	}

	now = now.UTC()
	j := &Job{
		ID:        id.NewJobID(),
		Queue:     queue,
		Type:      typ,
		Payload:   payload,
		Options:   o,
		State:     StateWaiting,
		CreatedAt: now,
	}
	if o.Delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(o.Delay)
	}
	return j, nil
}

// Clone returns a deep copy so callers never share a record by reference.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	cp.ProcessedAt = cloneTime(j.ProcessedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.FailedAt = cloneTime(j.FailedAt)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
