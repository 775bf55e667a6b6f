// Package job defines the job definition, the live job run, its status
// machine and a concurrency-safe definition cache.
//
// # Status
//
// A [Run] moves through:
//
//	WAITING → RUNNING → SUCCESS
//	WAITING → RUNNING → FAIL | TIMEOUT → WAITING   (retry while RetryCount < MaxRetries)
//	WAITING | RUNNING → CANCELLED
//
// FAIL and TIMEOUT re-enter WAITING only through the retry policy. Once
// retries are exhausted the run stays FAIL.
//
// # Registry
//
// [Registry] caches [Definition] values loaded through a [Loader]
// (normally the catalog). A refresh broadcast calls [Registry.Invalidate]
// so the next lookup reloads.
package job
