package cron

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

// Definition is a recurring job template.
type Definition struct {
	Queue     string      `json:"queue"`
	Type      job.Type    `json:"type"`
	Payload   []byte      `json:"payload,omitempty"`
	Schedule  string      `json:"schedule"`
	Options   job.Options `json:"options"`
	NextRunAt time.Time   `json:"next_run_at"`
	LastRunAt *time.Time  `json:"last_run_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Key returns the identity of the definition.
func (d *Definition) Key() string { return Key(d.Queue, d.Type) }

// Key builds a definition key from its parts.
func Key(queue string, typ job.Type) string { return queue + ":" + string(typ) }

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	cp := *d
	if d.Payload != nil {
		cp.Payload = append([]byte(nil), d.Payload...)
	}
	if d.LastRunAt != nil {
		t := *d.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression. Errors wrap
// backlog.ErrInvalidSchedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", backlog.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}
