package cluster

import (
	"context"
	"time"
)

// Store defines the persistence contract for node registration and bucket
// leases.
type Store interface {
	// RegisterNode adds or replaces a node in the registry.
	RegisterNode(ctx context.Context, n *Node) error

	// DeregisterNode removes a node from the registry.
	DeregisterNode(ctx context.Context, nodeID string) error

	// HeartbeatNode refreshes the node's last-seen timestamp and state.
	HeartbeatNode(ctx context.Context, nodeID string, state NodeState) error

	// ListNodes returns nodes that heartbeated within aliveWithin.
	ListNodes(ctx context.Context, aliveWithin time.Duration) ([]*Node, error)

	// AcquireBucket claims bucket for nodeID if it is free, expired or
	// already held by nodeID. It reports whether nodeID now holds it.
	AcquireBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error)

	// RenewBucket extends nodeID's lease. It reports false when nodeID is
	// no longer the holder.
	RenewBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error)

	// ReleaseBucket drops nodeID's lease. Releasing a lease held by
	// another node is a no-op.
	ReleaseBucket(ctx context.Context, bucket int, nodeID string) error

	// BucketOwner returns the current holder of bucket, or "" when free.
	BucketOwner(ctx context.Context, bucket int) (string, error)
}
