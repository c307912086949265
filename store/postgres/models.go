package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ── Job model ─────────────────────────────────────────────────────

const jobColumns = `queue, id, type, state, payload, options, attempts, error, result,
	run_at, created_at, processed_at, completed_at, failed_at`

type jobModel struct {
	Queue       string     `db:"queue"`
	ID          string     `db:"id"`
	Type        string     `db:"type"`
	State       string     `db:"state"`
	Payload     []byte     `db:"payload"`
	Options     []byte     `db:"options"`
	Attempts    int        `db:"attempts"`
	Error       string     `db:"error"`
	Result      []byte     `db:"result"`
	RunAt       time.Time  `db:"run_at"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
	CompletedAt *time.Time `db:"completed_at"`
	FailedAt    *time.Time `db:"failed_at"`
}

func toJobModel(j *job.Job) (*jobModel, error) {
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return &jobModel{
		Queue:       j.Queue,
		ID:          j.ID.String(),
		Type:        string(j.Type),
		State:       string(j.State),
		Payload:     j.Payload,
		Options:     opts,
		Attempts:    j.Attempts,
		Error:       j.Error,
		Result:      j.Result,
		RunAt:       j.RunAt,
		CreatedAt:   j.CreatedAt,
		ProcessedAt: j.ProcessedAt,
		CompletedAt: j.CompletedAt,
		FailedAt:    j.FailedAt,
	}, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}
	var opts job.Options
	if err := json.Unmarshal(m.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &job.Job{
		ID:          jobID,
		Queue:       m.Queue,
		Type:        job.Type(m.Type),
		Payload:     m.Payload,
		Options:     opts,
		State:       job.State(m.State),
		Attempts:    m.Attempts,
		Error:       m.Error,
		Result:      m.Result,
		RunAt:       m.RunAt.UTC(),
		CreatedAt:   m.CreatedAt.UTC(),
		ProcessedAt: utcPtr(m.ProcessedAt),
		CompletedAt: utcPtr(m.CompletedAt),
		FailedAt:    utcPtr(m.FailedAt),
	}, nil
}

// ── Recurring model ───────────────────────────────────────────────

const recurringColumns = `key, queue, type, payload, schedule, options,
	next_run_at, last_run_at, created_at, updated_at`

type recurringModel struct {
	Key       string     `db:"key"`
	Queue     string     `db:"queue"`
	Type      string     `db:"type"`
	Payload   []byte     `db:"payload"`
	Schedule  string     `db:"schedule"`
	Options   []byte     `db:"options"`
	NextRunAt time.Time  `db:"next_run_at"`
	LastRunAt *time.Time `db:"last_run_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func fromRecurringModel(m *recurringModel) (*cron.Definition, error) {
	var opts job.Options
	if err := json.Unmarshal(m.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &cron.Definition{
		Queue:     m.Queue,
		Type:      job.Type(m.Type),
		Payload:   m.Payload,
		Schedule:  m.Schedule,
		Options:   opts,
		NextRunAt: m.NextRunAt.UTC(),
		LastRunAt: utcPtr(m.LastRunAt),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
