// Package cluster defines the node registry and the bucket lease store
// shared by every scheduling node.
//
// Each running node registers itself as a [Node] and heartbeats
// periodically. Nodes whose heartbeat is older than the alive window no
// longer count when computing the fair share of buckets.
//
// A bucket lease is held by exactly one node at a time and expires after
// its TTL unless renewed. [Store.AcquireBucket] only succeeds on a free or
// expired lease (or one already held by the caller); [Store.RenewBucket]
// and [Store.ReleaseBucket] only succeed for the current holder.
// Backends: store/memory and store/redis.
package cluster
