package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
)

// acquireScript takes the lease when it is free or already ours. Expired
// leases are gone because the key carries the TTL.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// renewScript extends the lease only while we still hold it.
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript deletes the lease only while we still hold it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ──────────────────────────────────────────────────
// Node registry
// ──────────────────────────────────────────────────

// RegisterNode adds or replaces a node in the registry.
func (s *Store) RegisterNode(ctx context.Context, n *cluster.Node) error {
	cp := *n
	if cp.LastSeen.IsZero() {
		cp.LastSeen = s.now().UTC()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.LastSeen
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, nodeKey(cp.ID), nodeToMap(&cp))
	pipe.SAdd(ctx, nodeIDsKey, cp.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: register node: %w", err)
	}
	return nil
}

// DeregisterNode removes a node from the registry.
func (s *Store) DeregisterNode(ctx context.Context, nodeID string) error {
	key := nodeKey(nodeID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cadence/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return cadence.ErrNodeNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, nodeIDsKey, nodeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: deregister node: %w", err)
	}
	return nil
}

// HeartbeatNode updates the last-seen timestamp and state of a node.
func (s *Store) HeartbeatNode(ctx context.Context, nodeID string, state cluster.NodeState) error {
	key := nodeKey(nodeID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cadence/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return cadence.ErrNodeNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"last_seen", s.now().UTC().Format(time.RFC3339Nano),
		"state", string(state),
	).Result()
	if err != nil {
		return fmt.Errorf("cadence/redis: heartbeat node: %w", err)
	}
	return nil
}

// ListNodes returns the nodes seen within aliveWithin, oldest first.
func (s *Store) ListNodes(ctx context.Context, aliveWithin time.Duration) ([]*cluster.Node, error) {
	ids, err := s.client.SMembers(ctx, nodeIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: list nodes: %w", err)
	}

	cutoff := s.now().UTC().Add(-aliveWithin)
	nodes := make([]*cluster.Node, 0, len(ids))
	for _, nID := range ids {
		vals, getErr := s.client.HGetAll(ctx, nodeKey(nID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		n := mapToNode(vals)
		if n.LastSeen.Before(cutoff) {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })
	return nodes, nil
}

// ──────────────────────────────────────────────────
// Bucket leases
// ──────────────────────────────────────────────────

// AcquireBucket claims bucket for nodeID if it is free or already held by
// nodeID.
func (s *Store) AcquireBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{bucketKey(bucket)}, nodeID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cadence/redis: acquire bucket %d: %w", bucket, err)
	}
	return n == 1, nil
}

// RenewBucket extends nodeID's lease on bucket.
func (s *Store) RenewBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{bucketKey(bucket)}, nodeID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cadence/redis: renew bucket %d: %w", bucket, err)
	}
	return n == 1, nil
}

// ReleaseBucket drops nodeID's lease on bucket.
func (s *Store) ReleaseBucket(ctx context.Context, bucket int, nodeID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{bucketKey(bucket)}, nodeID).Err(); err != nil {
		return fmt.Errorf("cadence/redis: release bucket %d: %w", bucket, err)
	}
	return nil
}

// BucketOwner returns the holder of bucket, or "" when it is free.
func (s *Store) BucketOwner(ctx context.Context, bucket int) (string, error) {
	owner, err := s.client.Get(ctx, bucketKey(bucket)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("cadence/redis: bucket owner %d: %w", bucket, err)
	}
	return owner, nil
}

// ── helpers ──

func nodeToMap(n *cluster.Node) map[string]interface{} {
	return map[string]interface{}{
		"id":         n.ID,
		"hostname":   n.Hostname,
		"state":      string(n.State),
		"last_seen":  n.LastSeen.Format(time.RFC3339Nano),
		"metadata":   marshalJSON(n.Metadata),
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	}
}

func mapToNode(m map[string]string) *cluster.Node {
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return &cluster.Node{
		ID:        m["id"],
		Hostname:  m["hostname"],
		State:     cluster.NodeState(m["state"]),
		LastSeen:  lastSeen,
		Metadata:  unmarshalMap(m["metadata"]),
		CreatedAt: createdAt,
	}
}

func marshalJSON(v map[string]string) string {
	if len(v) == 0 {
		return ""
	}
	b, _ := json.Marshal(v) //nolint:errcheck // a string map always marshals
	return string(b)
}

func unmarshalMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal([]byte(s), &m) //nolint:errcheck // best-effort parse from trusted Redis data
	return m
}
