package memory

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-memdb"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/job"
)

const (
	tableJobs      = "jobs"
	tableQueues    = "queues"
	tableRecurring = "recurring"

	indexID    = "id"
	indexOrder = "order"
)

// jobRow is one job record. Rows are immutable once inserted; updates
// insert a fresh row.
type jobRow struct {
	Key     string // queue + "/" + id
	Queue   string
	State   string
	SortKey string
	Score   float64
	Job     *job.Job
}

// queueRow tracks a known queue and its waiting-index sequence.
type queueRow struct {
	Name string
	Seq  int64
}

type recurringRow struct {
	Key string
	Def *cron.Definition
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableJobs:      jobsTableSchema(),
			tableQueues:    queuesTableSchema(),
			tableRecurring: recurringTableSchema(),
		},
	}
}

// jobsTableSchema indexes rows by (queue, state, sort key). Non-unique
// index entries are suffixed with the primary key, so ties on score are
// ordered by job id.
func jobsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableJobs,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "Key"},
			},
			indexOrder: {
				Name: indexOrder,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Queue"},
						&memdb.StringFieldIndex{Field: "State"},
						&memdb.StringFieldIndex{Field: "SortKey"},
					},
				},
			},
		},
	}
}

func queuesTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableQueues,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "Name"},
			},
		},
	}
}

func recurringTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableRecurring,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "Key"},
			},
		},
	}
}

func rowKey(queue, jobID string) string { return queue + "/" + jobID }

// sortKey encodes a score as a fixed-width hex string whose byte order
// matches numeric order.
func sortKey(score float64) string {
	if score == 0 {
		score = 0 // fold -0
	}
	bits := math.Float64bits(score)
	if score >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return fmt.Sprintf("%016x", bits)
}
