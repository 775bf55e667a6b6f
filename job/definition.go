package job

import (
	"bytes"
	"time"
)

// RouteStrategy selects the executor endpoint for a dispatch.
type RouteStrategy string

const (
	RouteFirst      RouteStrategy = "FIRST"
	RouteRoundRobin RouteStrategy = "ROUND_ROBIN"
	RouteRandom     RouteStrategy = "RANDOM"
	RouteHash       RouteStrategy = "HASH"
	RouteLeastBusy  RouteStrategy = "LEAST_BUSY"
	RouteFailover   RouteStrategy = "FAILOVER"
	// RouteSharding splits the run into ranges spread over all endpoints.
	RouteSharding RouteStrategy = "SHARDING"
)

// BlockStrategy decides what happens when a job is triggered while an
// earlier run of the same job is still RUNNING.
type BlockStrategy string

const (
	// BlockDiscardLater drops the new trigger.
	BlockDiscardLater BlockStrategy = "DISCARD_LATER"
	// BlockOverrideEarlier cancels the running instance and starts the new one.
	BlockOverrideEarlier BlockStrategy = "OVERRIDE_EARLIER"
	// BlockParallel lets both run.
	BlockParallel BlockStrategy = "PARALLEL"
)

// Definition is the static configuration of a job. It changes only through
// catalog edits announced by a refresh broadcast.
type Definition struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	WorkflowID    int64         `json:"workflow_id"`
	Namespace     string        `json:"namespace"`
	Route         RouteStrategy `json:"route"`
	Block         BlockStrategy `json:"block"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	Priority      int           `json:"priority"`
	Enabled       bool          `json:"enabled"`

	// ShardCount is how many ranges a SHARDING run is split into; zero
	// means one range per endpoint. ShardTotal is the declared [0, total)
	// range size.
	ShardCount int   `json:"shard_count,omitempty"`
	ShardTotal int64 `json:"shard_total,omitempty"`

	Params    []byte    `json:"params,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Params = bytes.Clone(d.Params)
	return &c
}

// Sharded reports whether runs of this job are split into ranges.
func (d *Definition) Sharded() bool {
	return d.Route == RouteSharding && d.ShardTotal > 0
}
