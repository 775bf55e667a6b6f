package bucket

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/cluster"
)

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lease TTL.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithRenewInterval sets how often held leases are renewed. It must be
// shorter than the TTL.
func WithRenewInterval(d time.Duration) Option {
	return func(m *Manager) { m.renewInterval = d }
}

// WithRenewRetries sets how many jittered retries a failing renewal gets
// and their base delay.
func WithRenewRetries(n int, delay time.Duration) Option {
	return func(m *Manager) {
		m.renewRetries = n
		m.retryDelay = backoff.NewJitter(delay, 0.5)
	}
}

// WithAliveWithin sets the heartbeat age after which a node stops counting
// towards the fair share.
func WithAliveWithin(d time.Duration) Option {
	return func(m *Manager) { m.aliveWithin = d }
}

// WithListener registers a listener.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithClock overrides the clock used for node liveness.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager claims, renews and releases this node's bucket leases.
type Manager struct {
	store  cluster.Store
	nodeID string
	count  int
	logger *slog.Logger

	ttl           time.Duration
	renewInterval time.Duration
	renewRetries  int
	retryDelay    backoff.Strategy
	aliveWithin   time.Duration
	now           func() time.Time

	lmu       sync.RWMutex
	listeners []Listener

	mu    sync.RWMutex
	owned map[int]bool

	// cycle serialises Acquire, renewal and release passes.
	cycle sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a lease manager for nodeID over count buckets.
func NewManager(store cluster.Store, nodeID string, count int, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:         store,
		nodeID:        nodeID,
		count:         count,
		logger:        logger,
		ttl:           15 * time.Second,
		renewInterval: 5 * time.Second,
		renewRetries:  3,
		retryDelay:    backoff.NewJitter(200*time.Millisecond, 0.5),
		aliveWithin:   20 * time.Second,
		now:           time.Now,
		owned:         make(map[int]bool),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l for future ownership changes.
func (m *Manager) AddListener(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Count returns the number of buckets in the keyspace.
func (m *Manager) Count() int { return m.count }

// NodeID returns the node this manager leases for.
func (m *Manager) NodeID() string { return m.nodeID }

// Owns reports whether this node currently holds bucket.
func (m *Manager) Owns(bucket int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owned[bucket]
}

// Owned returns the held buckets in ascending order.
func (m *Manager) Owned() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.owned)
}

// Start claims an initial share and launches the renewal loop.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.Acquire(ctx); err != nil {
		m.logger.Warn("initial bucket acquire failed", slog.String("error", err.Error()))
	}
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("bucket manager started",
		slog.String("node_id", m.nodeID),
		slog.Int("bucket_count", m.count),
		slog.Duration("lease_ttl", m.ttl),
	)
	return nil
}

// Stop halts renewal and releases every held bucket.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.cycle.Lock()
	defer m.cycle.Unlock()
	for _, b := range m.Owned() {
		m.drop(b)
		if err := m.store.ReleaseBucket(ctx, b, m.nodeID); err != nil {
			m.logger.Warn("bucket release failed",
				slog.Int("bucket", b),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.Info("bucket manager stopped", slog.String("node_id", m.nodeID))
	return nil
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.ttl)
			m.Renew(ctx)
			if _, err := m.Acquire(ctx); err != nil {
				m.logger.Warn("bucket rebalance failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

// Acquire rebalances towards the fair share: surplus buckets are released,
// free buckets are claimed until the share is reached. It returns the
// buckets held afterwards.
func (m *Manager) Acquire(ctx context.Context) ([]int, error) {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	share, err := m.fairShare(ctx)
	if err != nil {
		return m.Owned(), err
	}

	held := m.Owned()
	if len(held) > share {
		// Release from the top so the remaining set stays stable.
		for _, b := range held[share:] {
			m.drop(b)
			if err := m.store.ReleaseBucket(ctx, b, m.nodeID); err != nil {
				m.logger.Warn("bucket release failed",
					slog.Int("bucket", b),
					slog.String("error", err.Error()),
				)
			}
		}
		return m.Owned(), nil
	}

	// Start probing at a node-specific offset to spread contention.
	start := m.offset()
	for i := 0; i < m.count && len(m.Owned()) < share; i++ {
		b := (start + i) % m.count
		if m.Owns(b) {
			continue
		}
		ok, err := m.store.AcquireBucket(ctx, b, m.nodeID, m.ttl)
		if err != nil {
			return m.Owned(), err
		}
		if ok {
			m.add(b)
		}
	}
	return m.Owned(), nil
}

// Renew extends every held lease. Buckets renew in parallel; a bucket that
// still fails after its retries is dropped with a lost event.
func (m *Manager) Renew(ctx context.Context) {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	var g errgroup.Group
	g.SetLimit(16)
	for _, b := range m.Owned() {
		g.Go(func() error {
			if !m.renewOne(ctx, b) {
				m.drop(b)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // renewals never return errors
}

func (m *Manager) renewOne(ctx context.Context, b int) bool {
	for attempt := 0; ; attempt++ {
		ok, err := m.store.RenewBucket(ctx, b, m.nodeID, m.ttl)
		if err == nil {
			if !ok {
				m.logger.Warn("bucket lease taken over", slog.Int("bucket", b))
			}
			return ok
		}
		if attempt >= m.renewRetries {
			m.logger.Warn("bucket renew failed, releasing",
				slog.Int("bucket", b),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return false
		}
		select {
		case <-time.After(m.retryDelay.Delay(attempt + 1)):
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Manager) fairShare(ctx context.Context) (int, error) {
	nodes, err := m.store.ListNodes(ctx, m.aliveWithin)
	if err != nil {
		return 0, err
	}
	now := m.now()
	live, self := 0, false
	for _, n := range nodes {
		if !n.Alive(now, m.aliveWithin) {
			continue
		}
		live++
		if n.ID == m.nodeID {
			self = true
		}
	}
	if !self {
		live++
	}
	return FairShare(m.count, live), nil
}

func (m *Manager) offset() int {
	h := fnv.New32a()
	h.Write([]byte(m.nodeID)) //nolint:errcheck,gosec // hash writes never fail

	return int(h.Sum32() % uint32(m.count)) //nolint:gosec // count is positive and small
}

func (m *Manager) add(b int) {
	m.mu.Lock()
	m.owned[b] = true
	m.mu.Unlock()

	m.logger.Info("bucket acquired", slog.Int("bucket", b), slog.String("node_id", m.nodeID))
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	for _, l := range m.listeners {
		l.BucketAcquired(b)
	}
}

func (m *Manager) drop(b int) {
	m.mu.Lock()
	held := m.owned[b]
	delete(m.owned, b)
	m.mu.Unlock()
	if !held {
		return
	}

	m.logger.Info("bucket lost", slog.Int("bucket", b), slog.String("node_id", m.nodeID))
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	for _, l := range m.listeners {
		l.BucketLost(b)
	}
}
