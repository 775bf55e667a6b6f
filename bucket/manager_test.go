package bucket_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type recorder struct {
	mu       sync.Mutex
	acquired []int
	lost     []int
}

func (r *recorder) BucketAcquired(b int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, b)
}

func (r *recorder) BucketLost(b int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, b)
}

func (r *recorder) Lost() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lost)
}

// flakyStore fails renewals of selected buckets.
type flakyStore struct {
	*memory.Store
	mu   sync.Mutex
	fail map[int]bool
}

func (f *flakyStore) RenewBucket(ctx context.Context, b int, nodeID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	failing := f.fail[b]
	f.mu.Unlock()
	if failing {
		return false, errors.New("connection reset")
	}
	return f.Store.RenewBucket(ctx, b, nodeID, ttl)
}

func register(t *testing.T, s cluster.Store, ids ...string) {
	t.Helper()
	for _, nodeID := range ids {
		if err := s.RegisterNode(context.Background(), &cluster.Node{ID: nodeID, State: cluster.NodeActive}); err != nil {
			t.Fatalf("RegisterNode(%s): %v", nodeID, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Pure helpers
// ──────────────────────────────────────────────────

func TestOf(t *testing.T) {
	tests := []struct {
		id    int64
		count int
		want  int
	}{
		{10, 4, 2},
		{-1, 4, 3},
		{-8, 4, 0},
		{7, 0, 0},
	}
	for _, tt := range tests {
		if got := bucket.Of(tt.id, tt.count); got != tt.want {
			t.Errorf("Of(%d, %d) = %d, want %d", tt.id, tt.count, got, tt.want)
		}
	}
}

func TestFairShare(t *testing.T) {
	if got := bucket.FairShare(8, 3); got != 3 {
		t.Errorf("FairShare(8, 3) = %d, want 3", got)
	}
	if got := bucket.FairShare(8, 0); got != 8 {
		t.Errorf("FairShare(8, 0) = %d, want 8", got)
	}
}

// ──────────────────────────────────────────────────
// Manager tests
// ──────────────────────────────────────────────────

func TestManager_SingleNodeTakesAll(t *testing.T) {
	s := memory.New()
	register(t, s, "a")
	rec := &recorder{}
	m := bucket.NewManager(s, "a", 8, nil, bucket.WithListener(rec))

	held, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(held) != 8 {
		t.Fatalf("held %d buckets, want 8", len(held))
	}
	if len(rec.acquired) != 8 {
		t.Errorf("acquired events = %d, want 8", len(rec.acquired))
	}
	for b := range 8 {
		if owner, _ := s.BucketOwner(context.Background(), b); owner != "a" {
			t.Errorf("bucket %d owner = %q", b, owner)
		}
	}
}

func TestManager_RebalancesToFairShare(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	register(t, s, "a")

	a := bucket.NewManager(s, "a", 8, nil)
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire a: %v", err)
	}

	register(t, s, "b")
	b := bucket.NewManager(s, "b", 8, nil)

	// a sheds its surplus first, then b picks it up.
	if held, _ := a.Acquire(ctx); len(held) != 4 {
		t.Fatalf("a holds %d after rebalance, want 4", len(held))
	}
	heldB, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	if len(heldB) != 4 {
		t.Fatalf("b holds %d, want 4", len(heldB))
	}
	for _, x := range heldB {
		if a.Owns(x) {
			t.Errorf("bucket %d owned by both nodes", x)
		}
	}
}

func TestManager_RenewFailureLosesOnlyThatBucket(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: memory.New(), fail: map[int]bool{}}
	register(t, s, "a")
	rec := &recorder{}
	m := bucket.NewManager(s, "a", 4, nil,
		bucket.WithListener(rec),
		bucket.WithRenewRetries(2, time.Millisecond),
	)
	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	s.mu.Lock()
	s.fail[2] = true
	s.mu.Unlock()
	m.Renew(ctx)

	if got := rec.Lost(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("lost = %v, want [2]", got)
	}
	if m.Owns(2) {
		t.Error("bucket 2 still owned")
	}
	if got := m.Owned(); !slices.Equal(got, []int{0, 1, 3}) {
		t.Errorf("owned = %v, want [0 1 3]", got)
	}
}

func TestManager_TakenOverLeaseIsLost(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	s := memory.New(memory.WithClock(clock))
	register(t, s, "a")
	rec := &recorder{}
	m := bucket.NewManager(s, "a", 1, nil,
		bucket.WithListener(rec),
		bucket.WithTTL(time.Second),
		bucket.WithClock(clock),
	)
	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	if ok, _ := s.AcquireBucket(ctx, 0, "b", time.Minute); !ok {
		t.Fatal("b should take over the expired lease")
	}

	m.Renew(ctx)
	if m.Owns(0) {
		t.Fatal("a still believes it owns bucket 0")
	}
	if got := rec.Lost(); len(got) != 1 || got[0] != 0 {
		t.Errorf("lost = %v, want [0]", got)
	}
}

func TestManager_StopReleasesAll(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	register(t, s, "a")
	rec := &recorder{}
	m := bucket.NewManager(s, "a", 4, nil,
		bucket.WithListener(rec),
		bucket.WithTTL(time.Minute),
		bucket.WithRenewInterval(time.Hour),
	)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(m.Owned()) != 0 {
		t.Errorf("owned after stop = %v", m.Owned())
	}
	if len(rec.Lost()) != 4 {
		t.Errorf("lost events = %d, want 4", len(rec.Lost()))
	}
	for b := range 4 {
		if owner, _ := s.BucketOwner(ctx, b); owner != "" {
			t.Errorf("bucket %d still leased to %q", b, owner)
		}
	}
}
