// Package redis implements the cluster store, the broadcast transport and
// the executor claim store on Redis. Bucket leases are keys with a PX
// expiry changed only through compare-and-set scripts, broadcasts are
// entries of one Stream that every node reads in full, and dispatch
// claims are SET NX keys.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/executor"
)

// Compile-time interface checks.
var (
	_ cluster.Store       = (*Store)(nil)
	_ broadcast.Transport = (*Store)(nil)
	_ executor.ClaimStore = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCodec sets the wire codec of broadcast events. Subscribers decode
// with the codec named on each entry, so nodes may differ.
func WithCodec(c broadcast.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithStreamMaxLen caps the event stream at about n entries.
func WithStreamMaxLen(n int64) Option {
	return func(s *Store) { s.maxLen = n }
}

// WithBlock sets how long a subscriber blocks on XREAD per call.
func WithBlock(d time.Duration) Option {
	return func(s *Store) { s.block = d }
}

// WithClock overrides the clock used for node heartbeats.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the Redis backend.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	codec  broadcast.Codec
	maxLen int64
	block  time.Duration
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
	subs      sync.WaitGroup
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		codec:  &broadcast.MsgpackCodec{},
		maxLen: 100_000,
		block:  time.Second,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close ends every subscription and waits for them to drain. The Redis
// client itself stays open; the caller owns it.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.subs.Wait()
	return nil
}

func (s *Store) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
