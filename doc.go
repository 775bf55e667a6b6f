// Package cadence provides a decentralized, bucket-leased job and workflow
// scheduler for Go. Every node runs one scheduling actor that owns a disjoint
// set of buckets of the job keyspace, decides when owned job runs become
// eligible, and dispatches them to an executor. Lifecycle commands (trigger,
// kill, rerun, online/offline, refresh) are broadcast to every node; each node
// derives identical run ids from the broadcast and acts only on what it owns.
//
// # Quick Start
//
//	n, err := cadence.New(
//	    cadence.WithCatalog(pgCatalog),
//	    cadence.WithClusterStore(redisStore),
//	    cadence.WithTransport(redisStore),
//	    cadence.WithBucketCount(64),
//	)
//	eng, err := engine.Build(n, engine.WithExecutor(router))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (catalog, cluster, broadcast) defines its own store
// interface; a backend under store/ implements one or more of them. The
// scheduler package holds the per-node actor: a single goroutine that owns
// all in-memory run state and talks to the outside world only through
// messages. Cross-node convergence relies on idempotent broadcast
// application (dedup by event id), max-merged watermarks and union-merged
// shard completion sets, see package crdt.
//
// Package api serves the engine's control operations over HTTP and package
// client calls them from Go; cmd/cadenced wires both with the Redis and
// PostgreSQL backends.
package cadence
