// Package memory provides in-process implementations of the catalog, the
// cluster store and the broadcast transport. Safe for concurrent access.
// Intended for unit testing, development and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/workflow"
)

// Ensure Store implements the subsystem contracts at compile time.
var (
	_ catalog.Catalog = (*Store)(nil)
	_ catalog.Admin   = (*Store)(nil)
	_ cluster.Store   = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for lease expiry and heartbeats.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

type lease struct {
	node  string
	until time.Time
}

// Store is a fully in-memory catalog and cluster store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	jobDefs map[int64]*job.Definition
	wfDefs  map[int64]*workflow.Definition
	wfRuns  map[id.RunID]*workflow.Run
	runs    map[id.RunID]*job.Run
	shards  map[id.RunID]crdt.RangeSet
	seq     int64

	nodes  map[string]*cluster.Node
	leases map[int]lease
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:     time.Now,
		jobDefs: make(map[int64]*job.Definition),
		wfDefs:  make(map[int64]*workflow.Definition),
		wfRuns:  make(map[id.RunID]*workflow.Run),
		runs:    make(map[id.RunID]*job.Run),
		shards:  make(map[id.RunID]crdt.RangeSet),
		nodes:   make(map[string]*cluster.Node),
		leases:  make(map[int]lease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
