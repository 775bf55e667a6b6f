package executor

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/cadence/id"
)

// ClaimStore records dispatch keys for a TTL.
type ClaimStore interface {
	// Claim records key and reports true if it was not already recorded
	// within its TTL.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unclaim drops key so the dispatch can be attempted again.
	Unclaim(ctx context.Context, key string) error
}

// Idempotent suppresses duplicate dispatches of the same request key
// within ttl. A rejected dispatch releases its claim.
type Idempotent struct {
	next   Executor
	claims ClaimStore
	ttl    time.Duration
}

// NewIdempotent wraps next. A nil claims uses a process-local store.
func NewIdempotent(next Executor, claims ClaimStore, ttl time.Duration) *Idempotent {
	if claims == nil {
		claims = NewMemoryClaims(time.Now)
	}
	return &Idempotent{next: next, claims: claims, ttl: ttl}
}

// Dispatch forwards req unless its key was claimed within the TTL, in
// which case it reports success without forwarding.
func (i *Idempotent) Dispatch(ctx context.Context, req *Request) error {
	key := req.DedupKey()
	fresh, err := i.claims.Claim(ctx, key, i.ttl)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	if err := i.next.Dispatch(ctx, req); err != nil {
		_ = i.claims.Unclaim(ctx, key) //nolint:errcheck // best effort, the claim expires anyway
		return err
	}
	return nil
}

// Kill is forwarded unchanged.
func (i *Idempotent) Kill(ctx context.Context, runID id.RunID) error {
	return i.next.Kill(ctx, runID)
}

// Size reports the wrapped executor's size, or 0.
func (i *Idempotent) Size() int {
	if s, ok := i.next.(Sized); ok {
		return s.Size()
	}
	return 0
}

// minSweep is the claim count below which expired claims are only
// dropped on lookup.
const minSweep = 64

// MemoryClaims is a process-local ClaimStore. Expired claims are replaced
// on lookup; the map is swept once it has doubled since the last sweep.
type MemoryClaims struct {
	now func() time.Time

	mu      sync.Mutex
	claims  map[string]time.Time
	sweepAt int
}

// NewMemoryClaims creates an empty store on clock now.
func NewMemoryClaims(now func() time.Time) *MemoryClaims {
	return &MemoryClaims{now: now, claims: make(map[string]time.Time), sweepAt: minSweep}
}

func (m *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.claims[key] = now.Add(ttl)
	if len(m.claims) > m.sweepAt {
		m.sweep(now)
	}
	return true, nil
}

func (m *MemoryClaims) sweep(now time.Time) {
	for k, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, k)
		}
	}
	m.sweepAt = max(minSweep, 2*len(m.claims))
}

func (m *MemoryClaims) Unclaim(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

// Len returns the number of claims held, expired ones included.
func (m *MemoryClaims) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}
