package job

import (
	"context"
	"sync"
)

// Loader fetches a job definition from durable storage.
type Loader interface {
	GetJobDefinition(ctx context.Context, jobID int64) (*Definition, error)
}

// Registry caches job definitions by id. It is safe for concurrent use.
type Registry struct {
	loader Loader

	mu   sync.RWMutex
	defs map[int64]*Definition
}

// NewRegistry creates an empty registry backed by loader.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader: loader,
		defs:   make(map[int64]*Definition),
	}
}

// Get returns the definition for jobID, loading and caching it on a miss.
// The returned value is a copy.
func (r *Registry) Get(ctx context.Context, jobID int64) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[jobID]
	r.mu.RUnlock()
	if ok {
		return def.Clone(), nil
	}

	def, err := r.loader.GetJobDefinition(ctx, jobID)
	if err != nil {
		return nil, err
	}
	r.Put(def)
	return def.Clone(), nil
}

// GetMany resolves several definitions. It fails on the first error.
func (r *Registry) GetMany(ctx context.Context, jobIDs []int64) (map[int64]*Definition, error) {
	out := make(map[int64]*Definition, len(jobIDs))
	for _, jid := range jobIDs {
		if _, done := out[jid]; done {
			continue
		}
		def, err := r.Get(ctx, jid)
		if err != nil {
			return nil, err
		}
		out[jid] = def
	}
	return out, nil
}

// Put stores a copy of def in the cache.
func (r *Registry) Put(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def.Clone()
}

// Invalidate drops the cached definition for jobID.
func (r *Registry) Invalidate(jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, jobID)
}

// Len returns the number of cached definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
