package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	mw "github.com/xraph/cadence/middleware"
	"github.com/xraph/cadence/observability"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/scheduler"
	"github.com/xraph/cadence/trigger"
)

// Engine is a running scheduling node. Use Build() to create one from a
// cadence.Node.
type Engine struct {
	node       *cadence.Node
	config     cadence.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry

	catalog   catalog.Catalog
	cluster   cluster.Store
	transport broadcast.Transport
	publisher *broadcast.Publisher

	executor executor.Executor
	claims   executor.ClaimStore
	claimTTL time.Duration
	mws      []mw.Middleware

	throttleConfigs []queue.Config
	throttle        *queue.Throttle

	buckets *bucket.Manager
	actor   *scheduler.Actor
	trigger *trigger.Scheduler

	now func() time.Time

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor sets the executor runs are dispatched to. Required.
func WithExecutor(e executor.Executor) Option {
	return func(eng *Engine) {
		eng.executor = e
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the dispatch chain after the defaults.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithThrottle registers per-namespace dispatch rate and concurrency
// limits. Namespaces not listed have no limits.
func WithThrottle(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithClaimStore sets where dispatch claims are recorded and for how long.
// Without it the cluster store or transport is used when it implements
// executor.ClaimStore, and a process-local store otherwise.
func WithClaimStore(cs executor.ClaimStore, ttl time.Duration) Option {
	return func(eng *Engine) {
		eng.claims = cs
		eng.claimTTL = ttl
	}
}

// WithClock overrides the clock of every component.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Node. The node's catalog must implement
// catalog.Catalog, its cluster store cluster.Store and its transport
// broadcast.Transport.
func Build(node *cadence.Node, opts ...Option) (*Engine, error) {
	logger := node.Logger()
	cfg := node.Config()

	if node.Catalog() == nil {
		return nil, cadence.ErrNoCatalog
	}
	cat, ok := node.Catalog().(catalog.Catalog)
	if !ok {
		return nil, fmt.Errorf("cadence: catalog %T does not implement catalog.Catalog", node.Catalog())
	}
	if node.ClusterStore() == nil {
		return nil, cadence.ErrNoClusterStore
	}
	cls, ok := node.ClusterStore().(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("cadence: cluster store %T does not implement cluster.Store", node.ClusterStore())
	}
	if node.Transport() == nil {
		return nil, cadence.ErrNoTransport
	}
	tr, ok := node.Transport().(broadcast.Transport)
	if !ok {
		return nil, fmt.Errorf("cadence: transport %T does not implement broadcast.Transport", node.Transport())
	}

	eng := &Engine{
		node:       node,
		config:     cfg,
		logger:     logger,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(cat),
		catalog:    cat,
		cluster:    cls,
		transport:  tr,
		publisher:  broadcast.NewPublisher(tr),
		claimTTL:   time.Hour,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.executor == nil {
		return nil, cadence.ErrNoExecutor
	}
	if eng.claims == nil {
		eng.claims = defaultClaims(eng.now, node.Transport(), node.ClusterStore())
	}
	eng.throttle = queue.NewThrottle(eng.throttleConfigs...)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/cadence/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Duplicates are dropped before the chain; the chain then runs
	// recover → tracing → metrics → logging → timeout → user middleware.
	dispatcher := executor.NewIdempotent(
		mw.Wrap(eng.executor, eng.middlewares()...),
		eng.claims,
		eng.claimTTL,
	)

	eng.trigger = trigger.NewScheduler(cat, eng.fire, cfg.BucketCount, logger,
		trigger.WithTickInterval(cfg.TickInterval),
		trigger.WithClock(eng.now),
	)

	eng.actor = scheduler.New(cfg.NodeID, cat, dispatcher,
		scheduler.WithConfig(cfg),
		scheduler.WithRegistry(eng.registry),
		scheduler.WithThrottle(eng.throttle),
		scheduler.WithExtensions(eng.extensions),
		scheduler.WithWorkflowListener(eng.trigger),
		scheduler.WithLogger(logger),
		scheduler.WithClock(eng.now),
	)

	eng.buckets = bucket.NewManager(cls, cfg.NodeID, cfg.BucketCount, logger,
		bucket.WithTTL(cfg.LeaseTTL),
		bucket.WithRenewInterval(cfg.RenewInterval),
		bucket.WithRenewRetries(cfg.RenewRetries, cfg.RenewRetryDelay),
		bucket.WithAliveWithin(cfg.NodeAliveWithin),
		bucket.WithClock(eng.now),
		bucket.WithListener(eng.actor),
		bucket.WithListener(eng.trigger),
	)

	return eng, nil
}

func (eng *Engine) middlewares() []mw.Middleware {
	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/cadence")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/cadence")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	defaults := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.config.DispatchTimeout),
	}
	all := make([]mw.Middleware, 0, len(defaults)+len(eng.mws))
	all = append(all, defaults...)
	return append(all, eng.mws...)
}

func defaultClaims(now func() time.Time, backends ...cadence.Storer) executor.ClaimStore {
	for _, b := range backends {
		if cs, ok := b.(executor.ClaimStore); ok {
			return cs
		}
	}
	return executor.NewMemoryClaims(now)
}

// Start registers the node and starts every component. Components run
// until Stop is called; ctx only bounds the startup calls.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.group != nil {
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := eng.now().UTC()
	n := &cluster.Node{
		ID:        eng.config.NodeID,
		Hostname:  hostname,
		State:     cluster.NodeActive,
		LastSeen:  now,
		CreatedAt: now,
	}
	if err := eng.cluster.RegisterNode(ctx, n); err != nil {
		return fmt.Errorf("register node: %w", err)
	}

	// Subscribe before any bucket is owned so no event is missed.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := eng.transport.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return eng.actor.Run(gctx) })
	g.Go(func() error { return eng.consume(gctx, events) })
	g.Go(func() error { return eng.heartbeat(gctx) })
	eng.cancel = cancel
	eng.group = g

	if err := eng.trigger.Start(ctx); err != nil {
		return fmt.Errorf("start trigger scheduler: %w", err)
	}
	if err := eng.buckets.Start(ctx); err != nil {
		return fmt.Errorf("start bucket manager: %w", err)
	}

	eng.logger.Info("cadence node started",
		slog.String("node_id", eng.config.NodeID),
		slog.Int("bucket_count", eng.config.BucketCount),
		slog.Any("owned", eng.buckets.Owned()),
	)
	return nil
}

// Stop releases every bucket, stops the components and deregisters the
// node.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.group == nil {
		return nil
	}

	if err := eng.cluster.HeartbeatNode(ctx, eng.config.NodeID, cluster.NodeDraining); err != nil {
		eng.logger.Warn("failed to mark node draining", slog.String("error", err.Error()))
	}

	if err := eng.trigger.Stop(ctx); err != nil {
		eng.logger.Error("trigger scheduler stop error", slog.String("error", err.Error()))
	}
	// Released buckets reach the actor as lost events while it still runs.
	if err := eng.buckets.Stop(ctx); err != nil {
		eng.logger.Error("bucket manager stop error", slog.String("error", err.Error()))
	}

	eng.cancel()
	err := eng.group.Wait()
	eng.group = nil

	eng.extensions.EmitShutdown(ctx)

	if derr := eng.cluster.DeregisterNode(ctx, eng.config.NodeID); derr != nil {
		eng.logger.Warn("failed to deregister node", slog.String("error", derr.Error()))
	}
	eng.logger.Info("cadence node stopped", slog.String("node_id", eng.config.NodeID))
	return err
}

// consume hands every broadcast event to the actor.
func (eng *Engine) consume(ctx context.Context, events <-chan *broadcast.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := eng.actor.Send(ctx, scheduler.BroadcastReceived{Event: e}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				eng.logger.Warn("broadcast not delivered to actor",
					slog.String("event_id", e.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// heartbeat refreshes the node registration until ctx is done.
func (eng *Engine) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(eng.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := eng.cluster.HeartbeatNode(ctx, eng.config.NodeID, cluster.NodeActive); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				eng.logger.Warn("node heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NodeID returns the identifier of this node.
func (eng *Engine) NodeID() string { return eng.config.NodeID }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job definition cache.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Catalog returns the catalog backend.
func (eng *Engine) Catalog() catalog.Catalog { return eng.catalog }

// Actor returns the scheduling actor.
func (eng *Engine) Actor() *scheduler.Actor { return eng.actor }

// Buckets returns the bucket lease manager.
func (eng *Engine) Buckets() *bucket.Manager { return eng.buckets }

// Trigger returns the timed trigger scheduler.
func (eng *Engine) Trigger() *trigger.Scheduler { return eng.trigger }

// Throttle returns the namespace dispatch throttle.
func (eng *Engine) Throttle() *queue.Throttle { return eng.throttle }
