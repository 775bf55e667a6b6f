package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
)

// ──────────────────────────────────────────────────
// Node registry
// ──────────────────────────────────────────────────

// RegisterNode adds or replaces a node.
func (m *Store) RegisterNode(_ context.Context, n *cluster.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	if cp.LastSeen.IsZero() {
		cp.LastSeen = m.now().UTC()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.LastSeen
	}
	m.nodes[n.ID] = &cp
	return nil
}

// DeregisterNode removes a node.
func (m *Store) DeregisterNode(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[nodeID]; !ok {
		return cadence.ErrNodeNotFound
	}
	delete(m.nodes, nodeID)
	return nil
}

// HeartbeatNode refreshes a node's last-seen time and state.
func (m *Store) HeartbeatNode(_ context.Context, nodeID string, state cluster.NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return cadence.ErrNodeNotFound
	}
	n.LastSeen = m.now().UTC()
	n.State = state
	return nil
}

// ListNodes returns nodes seen within aliveWithin, oldest first.
func (m *Store) ListNodes(_ context.Context, aliveWithin time.Duration) ([]*cluster.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().UTC().Add(-aliveWithin)
	var out []*cluster.Node
	for _, n := range m.nodes {
		if n.LastSeen.Before(cutoff) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ──────────────────────────────────────────────────
// Bucket leases
// ──────────────────────────────────────────────────

// AcquireBucket claims bucket if free, expired or already held by nodeID.
func (m *Store) AcquireBucket(_ context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[bucket]; ok && l.node != nodeID && now.Before(l.until) {
		return false, nil
	}
	m.leases[bucket] = lease{node: nodeID, until: now.Add(ttl)}
	return true, nil
}

// RenewBucket extends nodeID's unexpired lease.
func (m *Store) RenewBucket(_ context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	l, ok := m.leases[bucket]
	if !ok || l.node != nodeID || !now.Before(l.until) {
		return false, nil
	}
	m.leases[bucket] = lease{node: nodeID, until: now.Add(ttl)}
	return true, nil
}

// ReleaseBucket drops nodeID's lease.
func (m *Store) ReleaseBucket(_ context.Context, bucket int, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[bucket]; ok && l.node == nodeID {
		delete(m.leases, bucket)
	}
	return nil
}

// BucketOwner returns the holder of an unexpired lease on bucket.
func (m *Store) BucketOwner(_ context.Context, bucket int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[bucket]
	if !ok || !m.now().Before(l.until) {
		return "", nil
	}
	return l.node, nil
}
