package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// Router is an Executor over a dynamic set of endpoints.
type Router struct {
	logger *slog.Logger

	mu        sync.RWMutex
	endpoints []Endpoint

	rr atomic.Uint64
}

// NewRouter creates a router over endpoints.
func NewRouter(logger *slog.Logger, endpoints ...Endpoint) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, endpoints: slices.Clone(endpoints)}
}

// SetEndpoints replaces the endpoint set.
func (r *Router) SetEndpoints(endpoints ...Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = slices.Clone(endpoints)
}

// Add appends an endpoint unless its address is already present.
func (r *Router) Add(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.endpoints {
		if cur.Address() == ep.Address() {
			return
		}
	}
	r.endpoints = append(r.endpoints, ep)
}

// Remove drops the endpoint at address.
func (r *Router) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = slices.DeleteFunc(r.endpoints, func(ep Endpoint) bool { return ep.Address() == address })
}

// Size returns the number of endpoints.
func (r *Router) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

func (r *Router) snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.endpoints)
}

// Dispatch routes req by its run's strategy. FAILOVER tries endpoints in
// order until one answers its beat.
func (r *Router) Dispatch(ctx context.Context, req *Request) error {
	eps := r.snapshot()
	strategy := req.Run.Route

	if strategy == job.RouteFailover {
		healthy := eps[:0:0]
		for _, ep := range eps {
			if err := ep.Beat(ctx); err != nil {
				r.logger.Debug("endpoint beat failed",
					slog.String("address", ep.Address()),
					slog.String("error", err.Error()),
				)
				continue
			}
			healthy = append(healthy, ep)
		}
		eps = healthy
	}

	ep, err := Select(strategy, eps, strconv.FormatInt(req.Run.JobID, 10), r.rr.Add(1)-1)
	if err != nil {
		return err
	}
	if err := ep.Dispatch(ctx, req); err != nil {
		return fmt.Errorf("%w: %s: %w", cadence.ErrExecutorRejected, ep.Address(), err)
	}
	return nil
}

// Kill forwards the kill to every endpoint, since any of them may hold a
// range of the run.
func (r *Router) Kill(ctx context.Context, runID id.RunID) error {
	var errs []error
	for _, ep := range r.snapshot() {
		if err := ep.Kill(ctx, runID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.Address(), err))
		}
	}
	return errors.Join(errs...)
}
