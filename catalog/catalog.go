// Package catalog defines the durable store of job and workflow
// definitions and run history that the scheduler reads from and writes to.
//
// The scheduler never blocks on the catalog: the actor issues every call
// from a bounded I/O goroutine and receives the result as a message.
// Backends: store/memory and store/postgres.
package catalog

import (
	"context"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Reader is the read side of the catalog.
type Reader interface {
	job.Loader

	// LoadJobRunsByBucket returns every job run of the bucket whose
	// workflow run is still RUNNING, in any job status, with shard
	// progress attached. Finished siblings are included so dependency
	// checks can see successful parents.
	LoadJobRunsByBucket(ctx context.Context, bucket int) ([]*job.Run, error)

	// LoadJobRunsSince returns up to limit job runs with Seq > afterSeq in
	// Seq order and the highest Seq returned (afterSeq when none).
	LoadJobRunsSince(ctx context.Context, afterSeq int64, limit int) ([]*job.Run, int64, error)

	// MaxRunSeq returns the highest job run Seq assigned so far.
	MaxRunSeq(ctx context.Context) (int64, error)

	// GetWorkflowDefinition returns a workflow definition.
	GetWorkflowDefinition(ctx context.Context, workflowID int64) (*workflow.Definition, error)

	// ListWorkflowsByStatus returns the workflow definitions in status.
	ListWorkflowsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Definition, error)

	// GetWorkflowRun returns a workflow run.
	GetWorkflowRun(ctx context.Context, workflowRunID id.RunID) (*workflow.Run, error)

	// GetJobRun returns a job run with its shard progress.
	GetJobRun(ctx context.Context, runID id.RunID) (*job.Run, error)

	// ListJobRuns returns every job run of a workflow run.
	ListJobRuns(ctx context.Context, workflowRunID id.RunID) ([]*job.Run, error)
}

// Writer is the write side of the catalog. Every method is idempotent.
type Writer interface {
	// PersistNewRuns inserts a workflow run and its job runs. Runs that
	// already exist are left untouched. Every run in runs has Seq set on
	// return, whether inserted now or earlier.
	PersistNewRuns(ctx context.Context, wr *workflow.Run, runs []*job.Run) error

	// UpdateRunStatus sets the status and message of a job run.
	UpdateRunStatus(ctx context.Context, runID id.RunID, status job.Status, message string) error

	// SaveRun writes the mutable fields of a job run: status, message,
	// retry count, trigger and dispatch times.
	SaveRun(ctx context.Context, r *job.Run) error

	// MergeShardProgress unions done into the stored completed ranges.
	MergeShardProgress(ctx context.Context, runID id.RunID, done crdt.RangeSet) error

	// UpdateWorkflowRunStatus sets the status of a workflow run.
	UpdateWorkflowRunStatus(ctx context.Context, workflowRunID id.RunID, status workflow.RunStatus, finishedAt time.Time) error

	// SetWorkflowStatus moves a workflow definition to status.
	SetWorkflowStatus(ctx context.Context, workflowID int64, status workflow.Status) error
}

// Catalog is the full catalog contract.
type Catalog interface {
	Reader
	Writer
}

// Admin writes definitions. The admin surface proper lives outside this
// module; backends expose it for seeding and tests.
type Admin interface {
	SaveJobDefinition(ctx context.Context, def *job.Definition) error
	SaveWorkflowDefinition(ctx context.Context, def *workflow.Definition) error
}
