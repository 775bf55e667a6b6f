package executor

import (
	"context"
	"fmt"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// Request is one dispatch of a job run, or of one range of a sharded run.
type Request struct {
	Run *job.Run `json:"run"`

	// Attempt is the retry count at dispatch time; 0 for the first try.
	Attempt int `json:"attempt"`

	// Split is the range to execute for SHARDING runs.
	Split *crdt.Range `json:"split,omitempty"`

	// Node is the scheduling node that issued the dispatch.
	Node string `json:"node,omitempty"`
}

// DedupKey identifies the request for duplicate suppression.
func (r *Request) DedupKey() string {
	if r.Split != nil {
		return fmt.Sprintf("%d:%d:%d-%d", r.Run.ID, r.Attempt, r.Split.Start, r.Split.End)
	}
	return fmt.Sprintf("%d:%d", r.Run.ID, r.Attempt)
}

// Executor accepts dispatches and kill requests. A nil error from Dispatch
// means accepted; the outcome is reported later through the engine's
// completion API.
type Executor interface {
	Dispatch(ctx context.Context, req *Request) error
	Kill(ctx context.Context, runID id.RunID) error
}

// Sized is implemented by executors that know how many endpoints they
// spread work over. Sharded runs without an explicit shard count are
// split into that many ranges.
type Sized interface {
	Size() int
}

// Endpoint is one executor process.
type Endpoint interface {
	// Address identifies the endpoint.
	Address() string

	// Dispatch hands the request to the endpoint.
	Dispatch(ctx context.Context, req *Request) error

	// Kill asks the endpoint to stop runID.
	Kill(ctx context.Context, runID id.RunID) error

	// Beat checks the endpoint is reachable.
	Beat(ctx context.Context) error

	// IdleBeat checks the endpoint is not already running jobID.
	IdleBeat(ctx context.Context, jobID int64) error

	// Busy returns the endpoint's last known number of running jobs.
	Busy() int
}
