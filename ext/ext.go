package ext

import (
	"context"
	"time"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job run hooks
// ──────────────────────────────────────────────────

// JobDispatched is called after the executor accepts a run. split is nil
// unless a single range of a sharded run was dispatched.
type JobDispatched interface {
	OnJobDispatched(ctx context.Context, r *job.Run, split *crdt.Range) error
}

// JobCompleted is called after a run finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, r *job.Run, elapsed time.Duration) error
}

// JobRetrying is called when a failed run is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, r *job.Run, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a run fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, r *job.Run, message string) error
}

// JobCancelled is called when a run is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, r *job.Run, reason string) error
}

// JobTimedOut is called when a RUNNING run exceeds its timeout.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, r *job.Run) error
}

// ──────────────────────────────────────────────────
// Cluster hooks
// ──────────────────────────────────────────────────

// WorkflowRunCompleted is called once a workflow run reaches a terminal
// status.
type WorkflowRunCompleted interface {
	OnWorkflowRunCompleted(ctx context.Context, wr *workflow.Run, elapsed time.Duration) error
}

// BucketAcquired is called when this node gains a bucket.
type BucketAcquired interface {
	OnBucketAcquired(ctx context.Context, bucket int) error
}

// BucketLost is called when this node loses a bucket.
type BucketLost interface {
	OnBucketLost(ctx context.Context, bucket int) error
}

// BroadcastApplied is called after a broadcast event is applied.
type BroadcastApplied interface {
	OnBroadcastApplied(ctx context.Context, e *broadcast.Event) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
