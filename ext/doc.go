// Package ext defines the extension system for cadence.
//
// Extensions are notified of scheduling lifecycle events and can react to
// them: recording metrics, emitting webhooks, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, r *job.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Job Run Hooks
//
//   - [JobDispatched]: a run (or one range of a sharded run) was accepted by the executor
//   - [JobCompleted]: a run finished successfully
//   - [JobRetrying]: a run failed and a retry was scheduled
//   - [JobFailed]: a run failed with no retries remaining
//   - [JobCancelled]: a run was killed, overridden or cancelled upstream
//   - [JobTimedOut]: a RUNNING run exceeded its timeout
//
// # Cluster Hooks
//
//   - [WorkflowRunCompleted]: every job run of a workflow run is terminal
//   - [BucketAcquired] / [BucketLost]: bucket ownership changed
//   - [BroadcastApplied]: a broadcast event passed dedup and was applied
//   - [Shutdown]: the node is shutting down gracefully
//
// Hooks called by the scheduling actor run on its goroutine and must
// return quickly. The [Registry] fans out each event to all registered
// extensions that implement the corresponding hook interface.
package ext
