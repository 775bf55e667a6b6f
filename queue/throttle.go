package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines dispatch limits for one namespace.
type Config struct {
	// Namespace is the job namespace the limits apply to.
	Namespace string `yaml:"namespace"`

	// MaxConcurrency limits how many runs of this namespace may be RUNNING
	// on this node at once. Zero means no limit.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RateLimit is the maximum sustained dispatches per second. Zero
	// disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `yaml:"rate_burst"`
}

// nsState tracks runtime state for a single namespace.
type nsState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Throttle controls per-namespace dispatch rate and concurrency.
// It is safe for concurrent use.
type Throttle struct {
	mu         sync.Mutex
	namespaces map[string]*nsState
}

// NewThrottle creates a Throttle with the given namespace configurations.
// Namespaces not listed here have no limits.
func NewThrottle(configs ...Config) *Throttle {
	t := &Throttle{namespaces: make(map[string]*nsState, len(configs))}
	for _, cfg := range configs {
		t.namespaces[cfg.Namespace] = newNSState(cfg)
	}
	return t
}

func newNSState(cfg Config) *nsState {
	s := &nsState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Acquire reports whether a run of namespace may be dispatched now. On
// true the active counter is incremented and the caller MUST call Release
// when the run leaves RUNNING. It never blocks.
func (t *Throttle) Acquire(namespace string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.namespaces[namespace]
	if s == nil {
		return true
	}
	// Concurrency first so a rejected run does not burn a token.
	if s.config.MaxConcurrency > 0 && s.active >= s.config.MaxConcurrency {
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	s.active++
	return true
}

// Release decrements the active count for namespace.
func (t *Throttle) Release(namespace string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.namespaces[namespace]; s != nil && s.active > 0 {
		s.active--
	}
}

// SetConfig dynamically updates (or creates) a namespace configuration.
func (t *Throttle) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := newNSState(cfg)
	// Preserve current active count if reconfiguring.
	if existing := t.namespaces[cfg.Namespace]; existing != nil {
		s.active = existing.active
	}
	t.namespaces[cfg.Namespace] = s
}

// ActiveCount returns the current number of active runs for namespace.
func (t *Throttle) ActiveCount(namespace string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.namespaces[namespace]; s != nil {
		return s.active
	}
	return 0
}
