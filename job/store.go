package job

import (
	"context"
	"math"
	"time"

	"github.com/xraph/backlog/id"
)

// Counts holds the cardinality of each index of one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Add increments the counter for state s.
func (c *Counts) Add(s State, n int64) {
	switch s {
	case StateWaiting:
		c.Waiting += n
	case StateActive:
		c.Active += n
	case StateCompleted:
		c.Completed += n
	case StateFailed:
		c.Failed += n
	case StateDelayed:
		c.Delayed += n
	}
}

// Store defines the persistence contract for jobs. Implementations must make
// every index move atomic with respect to concurrent callers: a job is never
// visible in two indices, nor in none.
type Store interface {
	// CreateJob persists a new job and inserts it into the index named by
	// j.State, which must be delayed or waiting. Fails with
	// backlog.ErrJobAlreadyExists on a duplicate id.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob returns a copy of the record or backlog.ErrJobNotFound.
	GetJob(ctx context.Context, queue string, jobID id.JobID) (*Job, error)

	// MoveJob removes j from the from index and inserts it into the index
	// named by j.State, writing the whole record in the same step. If j is
	// no longer in from, nothing is written and backlog.ErrJobMoved is
	// returned; this is what stops two loops claiming the same job.
	MoveJob(ctx context.Context, j *Job, from State) error

	// RangeByScore returns up to limit ids from one index whose score is at
	// most max, lowest score first, ties broken by id. A limit <= 0 means
	// no limit.
	RangeByScore(ctx context.Context, queue string, index State, max float64, limit int) ([]id.JobID, error)

	// DeleteJob removes the record if it is still in the from index, and
	// returns backlog.ErrJobMoved otherwise.
	DeleteJob(ctx context.Context, queue string, jobID id.JobID, from State) error

	// CountJobs returns the size of every index of a queue.
	CountJobs(ctx context.Context, queue string) (Counts, error)

	// ListQueues returns every queue that has ever held a job, sorted.
	ListQueues(ctx context.Context) ([]string, error)
}

// MaxPriority bounds the priority range so waiting scores stay exact.
const MaxPriority = 1000

// MaxScore matches every entry of an index.
var MaxScore = math.Inf(1)

// ClampPriority limits p to [-MaxPriority, MaxPriority].
func ClampPriority(p int) int {
	if p > MaxPriority {
		return MaxPriority
	}
	if p < -MaxPriority {
		return -MaxPriority
	}
	return p
}

// WaitingScore orders the waiting index: descending priority first, then
// ascending seq, a per-queue counter the store draws on every insert into
// waiting. Both creation and promotion draw a fresh seq, so ties are
// served in creation or promotion order.
func WaitingScore(priority int, seq int64) float64 {
	return -float64(ClampPriority(priority))*1e12 + float64(seq)
}

// TimeScore is the score of a timestamp in the time-ordered indices.
func TimeScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// IndexScore returns the score of j in its current non-waiting index: RunAt
// for delayed, ProcessedAt for active, CompletedAt and FailedAt for the
// terminal indices. Missing timestamps score as zero.
func IndexScore(j *Job) float64 {
	var t *time.Time
	switch j.State {
	case StateDelayed:
		t = &j.RunAt
	case StateActive:
		t = j.ProcessedAt
	case StateCompleted:
		t = j.CompletedAt
	case StateFailed:
		t = j.FailedAt
	}
	if t == nil || t.IsZero() {
		return 0
	}
	return TimeScore(*t)
}
