package redis

import (
	"context"
	"fmt"
	"time"
)

// Claim records key for ttl. It reports false when another dispatch
// already holds it.
func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, claimKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cadence/redis: claim %s: %w", key, err)
	}
	return ok, nil
}

// Unclaim drops key so the dispatch can be retried.
func (s *Store) Unclaim(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, claimKey(key)).Err(); err != nil {
		return fmt.Errorf("cadence/redis: unclaim %s: %w", key, err)
	}
	return nil
}
