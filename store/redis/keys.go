package redis

import "strconv"

// Redis key naming conventions for cadence data.
// All keys are prefixed with "cadence:" to avoid collisions.

const keyPrefix = "cadence:"

// ── Cluster keys ──

// bucketKey returns the lease key of a bucket: cadence:bucket:{n}
func bucketKey(n int) string { return keyPrefix + "bucket:" + strconv.Itoa(n) }

// nodeKey returns the hash key of a node: cadence:node:{id}
func nodeKey(id string) string { return keyPrefix + "node:" + id }

// nodeIDsKey is the Set tracking all node IDs for enumeration.
const nodeIDsKey = keyPrefix + "node_ids"

// ── Broadcast keys ──

// eventStreamKey is the Stream every broadcast event is appended to.
const eventStreamKey = keyPrefix + "events"

// ── Executor keys ──

// claimKey returns the key recording a dispatch claim: cadence:claim:{key}
func claimKey(key string) string { return keyPrefix + "claim:" + key }
