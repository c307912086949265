package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ── Job record ────────────────────────────────────────────────────

type jobRecord struct {
	ID          string      `msgpack:"id"`
	Queue       string      `msgpack:"queue"`
	Type        string      `msgpack:"type"`
	Payload     []byte      `msgpack:"payload"`
	Options     job.Options `msgpack:"options"`
	State       string      `msgpack:"state"`
	Attempts    int         `msgpack:"attempts"`
	Error       string      `msgpack:"error"`
	Result      []byte      `msgpack:"result"`
	RunAt       time.Time   `msgpack:"run_at"`
	CreatedAt   time.Time   `msgpack:"created_at"`
	ProcessedAt *time.Time  `msgpack:"processed_at"`
	CompletedAt *time.Time  `msgpack:"completed_at"`
	FailedAt    *time.Time  `msgpack:"failed_at"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	return msgpack.Marshal(&jobRecord{
		ID:          j.ID.String(),
		Queue:       j.Queue,
		Type:        string(j.Type),
		Payload:     j.Payload,
		Options:     j.Options,
		State:       string(j.State),
		Attempts:    j.Attempts,
		Error:       j.Error,
		Result:      j.Result,
		RunAt:       j.RunAt,
		CreatedAt:   j.CreatedAt,
		ProcessedAt: j.ProcessedAt,
		CompletedAt: j.CompletedAt,
		FailedAt:    j.FailedAt,
	})
}

func decodeJob(data []byte) (*job.Job, error) {
	var r jobRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", r.ID, err)
	}
	return &job.Job{
		ID:          jobID,
		Queue:       r.Queue,
		Type:        job.Type(r.Type),
		Payload:     r.Payload,
		Options:     r.Options,
		State:       job.State(r.State),
		Attempts:    r.Attempts,
		Error:       r.Error,
		Result:      r.Result,
		RunAt:       utc(r.RunAt),
		CreatedAt:   utc(r.CreatedAt),
		ProcessedAt: utcPtr(r.ProcessedAt),
		CompletedAt: utcPtr(r.CompletedAt),
		FailedAt:    utcPtr(r.FailedAt),
	}, nil
}

// ── Recurring record ──────────────────────────────────────────────

type definitionRecord struct {
	Queue     string      `msgpack:"queue"`
	Type      string      `msgpack:"type"`
	Payload   []byte      `msgpack:"payload"`
	Schedule  string      `msgpack:"schedule"`
	Options   job.Options `msgpack:"options"`
	NextRunAt time.Time   `msgpack:"next_run_at"`
	LastRunAt *time.Time  `msgpack:"last_run_at"`
	CreatedAt time.Time   `msgpack:"created_at"`
	UpdatedAt time.Time   `msgpack:"updated_at"`
}

func encodeDefinition(d *cron.Definition) ([]byte, error) {
	return msgpack.Marshal(&definitionRecord{
		Queue:     d.Queue,
		Type:      string(d.Type),
		Payload:   d.Payload,
		Schedule:  d.Schedule,
		Options:   d.Options,
		NextRunAt: d.NextRunAt,
		LastRunAt: d.LastRunAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	})
}

func decodeDefinition(data []byte) (*cron.Definition, error) {
	var r definitionRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode recurring: %w", err)
	}
	return &cron.Definition{
		Queue:     r.Queue,
		Type:      job.Type(r.Type),
		Payload:   r.Payload,
		Schedule:  r.Schedule,
		Options:   r.Options,
		NextRunAt: utc(r.NextRunAt),
		LastRunAt: utcPtr(r.LastRunAt),
		CreatedAt: utc(r.CreatedAt),
		UpdatedAt: utc(r.UpdatedAt),
	}, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
