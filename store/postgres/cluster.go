package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
)

// RegisterNode adds or replaces a node in the registry.
func (s *Store) RegisterNode(ctx context.Context, n *cluster.Node) error {
	now := s.now().UTC()
	lastSeen, created := n.LastSeen, n.CreatedAt
	if lastSeen.IsZero() {
		lastSeen = now
	}
	if created.IsZero() {
		created = lastSeen
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_nodes (id, hostname, state, last_seen, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		n.ID, n.Hostname, string(n.State), lastSeen, n.Metadata, created,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: register node: %w", err)
	}
	return nil
}

// DeregisterNode removes a node from the registry.
func (s *Store) DeregisterNode(ctx context.Context, nodeID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cadence_nodes WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("cadence/postgres: deregister node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrNodeNotFound
	}
	return nil
}

// HeartbeatNode updates the last-seen timestamp and state of a node.
func (s *Store) HeartbeatNode(ctx context.Context, nodeID string, state cluster.NodeState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cadence_nodes SET last_seen = $2, state = $3 WHERE id = $1`,
		nodeID, s.now().UTC(), string(state),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: heartbeat node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrNodeNotFound
	}
	return nil
}

// ListNodes returns the nodes seen within aliveWithin, oldest first.
func (s *Store) ListNodes(ctx context.Context, aliveWithin time.Duration) ([]*cluster.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hostname, state, last_seen, metadata, created_at
		FROM cadence_nodes
		WHERE last_seen >= $1
		ORDER BY created_at ASC`,
		s.now().UTC().Add(-aliveWithin),
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*cluster.Node
	for rows.Next() {
		n, scanErr := scanNode(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cadence/postgres: scan node row: %w", scanErr)
		}
		nodes = append(nodes, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate node rows: %w", err)
	}
	return nodes, nil
}

// AcquireBucket claims bucket for nodeID when the lease row is missing,
// expired, or already held by nodeID. The conditional upsert makes the
// check and the claim one atomic statement.
func (s *Store) AcquireBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_bucket_leases (bucket, node_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (bucket) DO UPDATE SET
			node_id = EXCLUDED.node_id,
			expires_at = EXCLUDED.expires_at
		WHERE cadence_bucket_leases.node_id = EXCLUDED.node_id
		   OR cadence_bucket_leases.expires_at <= $4`,
		bucket, nodeID, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: acquire bucket %d: %w", bucket, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewBucket extends nodeID's unexpired lease on bucket.
func (s *Store) RenewBucket(ctx context.Context, bucket int, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_bucket_leases
		SET expires_at = $3
		WHERE bucket = $1 AND node_id = $2 AND expires_at > $4`,
		bucket, nodeID, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: renew bucket %d: %w", bucket, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseBucket drops nodeID's lease on bucket.
func (s *Store) ReleaseBucket(ctx context.Context, bucket int, nodeID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cadence_bucket_leases WHERE bucket = $1 AND node_id = $2`,
		bucket, nodeID,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: release bucket %d: %w", bucket, err)
	}
	return nil
}

// BucketOwner returns the holder of bucket, or "" when it is free.
func (s *Store) BucketOwner(ctx context.Context, bucket int) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `
		SELECT node_id FROM cadence_bucket_leases
		WHERE bucket = $1 AND expires_at > $2`,
		bucket, s.now().UTC(),
	).Scan(&owner)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("cadence/postgres: bucket owner %d: %w", bucket, err)
	}
	return owner, nil
}

// scanNode scans a single node row.
func scanNode(row pgx.Row) (*cluster.Node, error) {
	var (
		n     cluster.Node
		state string
	)
	if err := row.Scan(&n.ID, &n.Hostname, &state, &n.LastSeen, &n.Metadata, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.State = cluster.NodeState(state)
	n.LastSeen = n.LastSeen.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}
