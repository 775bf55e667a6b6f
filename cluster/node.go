package cluster

import "time"

// NodeState represents the lifecycle state of a scheduling node.
type NodeState string

const (
	// NodeActive means the node is healthy and holds buckets.
	NodeActive NodeState = "active"
	// NodeDraining means the node is releasing its buckets before
	// shutting down.
	NodeDraining NodeState = "draining"
)

// Node represents a scheduling node in the cluster.
type Node struct {
	ID        string            `json:"id"`
	Hostname  string            `json:"hostname"`
	State     NodeState         `json:"state"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Alive reports whether the node heartbeated within window of now and is
// not draining.
func (n *Node) Alive(now time.Time, window time.Duration) bool {
	return n.State == NodeActive && now.Sub(n.LastSeen) <= window
}
