package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the emitters; register
// every extension before the node starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobDispatched        []entry[JobDispatched]
	jobCompleted         []entry[JobCompleted]
	jobRetrying          []entry[JobRetrying]
	jobFailed            []entry[JobFailed]
	jobCancelled         []entry[JobCancelled]
	jobTimedOut          []entry[JobTimedOut]
	workflowRunCompleted []entry[WorkflowRunCompleted]
	bucketAcquired       []entry[BucketAcquired]
	bucketLost           []entry[BucketLost]
	broadcastApplied     []entry[BroadcastApplied]
	shutdown             []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// cache appends e to list when it implements H.
func cache[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobDispatched = cache(r.jobDispatched, name, e)
	r.jobCompleted = cache(r.jobCompleted, name, e)
	r.jobRetrying = cache(r.jobRetrying, name, e)
	r.jobFailed = cache(r.jobFailed, name, e)
	r.jobCancelled = cache(r.jobCancelled, name, e)
	r.jobTimedOut = cache(r.jobTimedOut, name, e)
	r.workflowRunCompleted = cache(r.workflowRunCompleted, name, e)
	r.bucketAcquired = cache(r.bucketAcquired, name, e)
	r.bucketLost = cache(r.bucketLost, name, e)
	r.broadcastApplied = cache(r.broadcastApplied, name, e)
	r.shutdown = cache(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job run emitters
// ──────────────────────────────────────────────────

// EmitJobDispatched notifies all extensions that implement JobDispatched.
func (r *Registry) EmitJobDispatched(ctx context.Context, run *job.Run, split *crdt.Range) {
	for _, e := range r.jobDispatched {
		if err := e.hook.OnJobDispatched(ctx, run, split); err != nil {
			r.logHookError("OnJobDispatched", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, run *job.Run, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, run *job.Run, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, run, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, run *job.Run, message string) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, run, message); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, run *job.Run, reason string) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, run, reason); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobTimedOut notifies all extensions that implement JobTimedOut.
func (r *Registry) EmitJobTimedOut(ctx context.Context, run *job.Run) {
	for _, e := range r.jobTimedOut {
		if err := e.hook.OnJobTimedOut(ctx, run); err != nil {
			r.logHookError("OnJobTimedOut", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Cluster emitters
// ──────────────────────────────────────────────────

// EmitWorkflowRunCompleted notifies all extensions that implement
// WorkflowRunCompleted.
func (r *Registry) EmitWorkflowRunCompleted(ctx context.Context, wr *workflow.Run, elapsed time.Duration) {
	for _, e := range r.workflowRunCompleted {
		if err := e.hook.OnWorkflowRunCompleted(ctx, wr, elapsed); err != nil {
			r.logHookError("OnWorkflowRunCompleted", e.name, err)
		}
	}
}

// EmitBucketAcquired notifies all extensions that implement BucketAcquired.
func (r *Registry) EmitBucketAcquired(ctx context.Context, bucket int) {
	for _, e := range r.bucketAcquired {
		if err := e.hook.OnBucketAcquired(ctx, bucket); err != nil {
			r.logHookError("OnBucketAcquired", e.name, err)
		}
	}
}

// EmitBucketLost notifies all extensions that implement BucketLost.
func (r *Registry) EmitBucketLost(ctx context.Context, bucket int) {
	for _, e := range r.bucketLost {
		if err := e.hook.OnBucketLost(ctx, bucket); err != nil {
			r.logHookError("OnBucketLost", e.name, err)
		}
	}
}

// EmitBroadcastApplied notifies all extensions that implement
// BroadcastApplied.
func (r *Registry) EmitBroadcastApplied(ctx context.Context, ev *broadcast.Event) {
	for _, e := range r.broadcastApplied {
		if err := e.hook.OnBroadcastApplied(ctx, ev); err != nil {
			r.logHookError("OnBroadcastApplied", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
