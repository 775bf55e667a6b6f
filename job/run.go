package job

import (
	"bytes"
	"slices"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
)

// Run is the live, mutable unit of scheduling: one execution of a job
// within a workflow run. The scheduling actor that owns Bucket is the only
// writer of a Run held in memory.
type Run struct {
	ID            id.RunID      `json:"id"`
	WorkflowRunID id.RunID      `json:"workflow_run_id"`
	WorkflowID    int64         `json:"workflow_id"`
	JobID         int64         `json:"job_id"`
	Bucket        int           `json:"bucket"`
	Namespace     string        `json:"namespace"`
	Params        []byte        `json:"params,omitempty"`
	Route         RouteStrategy `json:"route"`
	Block         BlockStrategy `json:"block"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	Priority      int           `json:"priority"`
	TriggerTime   time.Time     `json:"trigger_time"`
	Status        Status        `json:"status"`
	Message       string        `json:"message,omitempty"`
	Parents       []id.RunID    `json:"parents,omitempty"`
	DispatchedAt  time.Time     `json:"dispatched_at,omitempty"`
	ShardCount    int           `json:"shard_count,omitempty"`
	ShardTotal    int64         `json:"shard_total,omitempty"`

	// Seq is the catalog-assigned insertion sequence, used as the
	// catch-up watermark. Zero until persisted.
	Seq int64 `json:"seq,omitempty"`

	// Shards tracks completed ranges of a SHARDING run.
	Shards *crdt.ShardProgress `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a WAITING run of def.
func NewRun(def *Definition, runID, workflowRunID id.RunID, bucket int, at time.Time, parents []id.RunID) *Run {
	r := &Run{
		ID:            runID,
		WorkflowRunID: workflowRunID,
		WorkflowID:    def.WorkflowID,
		JobID:         def.ID,
		Bucket:        bucket,
		Params:        bytes.Clone(def.Params),
		TriggerTime:   at,
		Status:        StatusWaiting,
		Parents:       slices.Clone(parents),
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	r.ApplyDefinition(def)
	return r
}

// ApplyDefinition copies the scheduling configuration of def onto the run.
// Retry bookkeeping already spent is preserved.
func (r *Run) ApplyDefinition(def *Definition) {
	r.Namespace = def.Namespace
	r.Route = def.Route
	r.Block = def.Block
	r.Timeout = def.Timeout
	r.MaxRetries = def.MaxRetries
	r.RetryInterval = def.RetryInterval
	r.Priority = def.Priority
	r.ShardCount = def.ShardCount
	r.ShardTotal = def.ShardTotal
	if r.Sharded() && r.Shards == nil {
		r.Shards = crdt.NewShardProgress(r.ShardTotal)
	}
}

// Sharded reports whether the run is split into ranges.
func (r *Run) Sharded() bool {
	return r.Route == RouteSharding && r.ShardTotal > 0
}

// HasRetriesLeft reports whether another retry is allowed.
func (r *Run) HasRetriesLeft() bool { return r.RetryCount < r.MaxRetries }

// TimedOut reports whether a RUNNING run exceeded its timeout at now.
func (r *Run) TimedOut(now time.Time) bool {
	return r.Status == StatusRunning && r.Timeout > 0 && !r.DispatchedAt.IsZero() &&
		now.Sub(r.DispatchedAt) >= r.Timeout
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Params = bytes.Clone(r.Params)
	c.Parents = slices.Clone(r.Parents)
	c.Shards = r.Shards.Clone()
	return &c
}
