// Package scheduler implements the per-node scheduling actor.
//
// One [Actor] runs per node. A single goroutine owns the in-memory job
// runs of the node's buckets, the trigger queue and the dependency index;
// everything else talks to it by sending a [Message]. Catalog reads and
// writes, executor calls and definition lookups happen on bounded helper
// goroutines whose results come back as messages, so the actor never
// blocks on I/O.
//
// Runs become eligible when their trigger time has passed, their bucket is
// owned and loaded, every parent run succeeded, the namespace throttle
// admits them and the job's block strategy allows it. Failures and
// timeouts are retried through the trigger queue after the job's fixed
// retry interval; exhaustion is terminal FAIL and cancels dependents so
// the workflow run can finish.
//
// Broadcast events are applied exactly once per event id. Every node
// derives the same run ids from the same event ([BuildTrigger],
// [BuildRerun]) and only the owner of the workflow's bucket acts on them.
package scheduler
