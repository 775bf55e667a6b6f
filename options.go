package cadence

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/id"
)

// Option configures a Node.
type Option func(*Node) error

// Storer is the minimal lifecycle interface held by the Node for every
// backend it is given. The engine package type-asserts the richer
// subsystem interfaces (catalog.Catalog, cluster.Store,
// broadcast.Transport) so this package stays free of import cycles.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// Node is the per-process handle holding configuration and the backends a
// scheduling node runs against. Build one with New and functional options,
// then hand it to engine.Build.
type Node struct {
	config    Config
	logger    *slog.Logger
	catalog   Storer
	cluster   Storer
	transport Storer
}

// New creates a Node with the given options.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	if n.config.NodeID == "" {
		n.config.NodeID = id.NewNodeID().String()
	}
	if err := n.config.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.config.NodeID }

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.config }

// Catalog returns the configured catalog backend.
func (n *Node) Catalog() Storer { return n.catalog }

// ClusterStore returns the configured lease/registry backend.
func (n *Node) ClusterStore() Storer { return n.cluster }

// Transport returns the configured broadcast transport.
func (n *Node) Transport() Storer { return n.transport }

// Close closes every distinct backend once.
func (n *Node) Close() error {
	var first error
	seen := make(map[Storer]bool, 3)
	for _, s := range []Storer{n.transport, n.cluster, n.catalog} {
		if s == nil || seen[s] {
			continue
		}
		seen[s] = true
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(n *Node) error {
		n.config = cfg
		return nil
	}
}

// WithNodeID sets the node identifier.
func WithNodeID(nodeID string) Option {
	return func(n *Node) error {
		n.config.NodeID = nodeID
		return nil
	}
}

// WithBucketCount sets the number of keyspace buckets.
func WithBucketCount(count int) Option {
	return func(n *Node) error {
		n.config.BucketCount = count
		return nil
	}
}

// WithLeaseTTL sets the bucket lease TTL and renews at a third of it.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(n *Node) error {
		n.config.LeaseTTL = ttl
		n.config.RenewInterval = ttl / 3
		return nil
	}
}

// WithTickInterval sets the actor's timer resolution.
func WithTickInterval(d time.Duration) Option {
	return func(n *Node) error {
		n.config.TickInterval = d
		return nil
	}
}

// WithCatchUpInterval sets how often missed runs are loaded by watermark.
func WithCatchUpInterval(d time.Duration) Option {
	return func(n *Node) error {
		n.config.CatchUpInterval = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// WithCatalog sets the catalog backend. It must implement catalog.Catalog.
func WithCatalog(s Storer) Option {
	return func(n *Node) error {
		n.catalog = s
		return nil
	}
}

// WithClusterStore sets the lease and node registry backend. It must
// implement cluster.Store.
func WithClusterStore(s Storer) Option {
	return func(n *Node) error {
		n.cluster = s
		return nil
	}
}

// WithTransport sets the broadcast transport. It must implement
// broadcast.Transport.
func WithTransport(s Storer) Option {
	return func(n *Node) error {
		n.transport = s
		return nil
	}
}
