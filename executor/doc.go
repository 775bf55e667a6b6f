// Package executor is the boundary between the scheduler and whatever
// actually runs job bodies.
//
// The scheduler calls [Executor.Dispatch] once a run is eligible and
// [Executor.Kill] on cancellation. A [Router] spreads dispatches over a
// dynamic set of [Endpoint]s according to the run's route strategy.
//
// # Duplicate dispatch
//
// During a bucket handoff two nodes may briefly both dispatch the same run.
// Executors must therefore treat a repeated [Request.DedupKey] within the
// dedup TTL as already accepted. [Idempotent] implements that contract in
// front of any Executor using a [ClaimStore]; with a shared store
// (store/redis) the guarantee holds across nodes. The key includes the
// attempt number and split range, so retries are never swallowed.
package executor
