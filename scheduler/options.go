package scheduler

import (
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
)

// Option configures an Actor.
type Option func(*Actor)

// WithConfig applies the scheduling settings of cfg.
func WithConfig(cfg cadence.Config) Option {
	return func(a *Actor) {
		a.bucketCount = cfg.BucketCount
		a.tick = cfg.TickInterval
		a.catchUpEvery = cfg.CatchUpInterval
		a.catchUpBatch = cfg.CatchUpBatch
		a.dedupTTL = cfg.DedupTTL
		a.ioLimit = cfg.IOConcurrency
		a.inboxSize = cfg.InboxSize
		a.loadInitial = cfg.LoadRetryInitial
		a.loadMax = cfg.LoadRetryMax
		a.dispatchTimeout = cfg.DispatchTimeout
	}
}

// WithBucketCount sets the keyspace size used to map workflows to buckets.
func WithBucketCount(n int) Option {
	return func(a *Actor) { a.bucketCount = n }
}

// WithTickInterval sets the timer resolution.
func WithTickInterval(d time.Duration) Option {
	return func(a *Actor) { a.tick = d }
}

// WithCatchUp sets the catch-up period and batch size. A zero period
// disables periodic catch-up; CatchUp messages still work.
func WithCatchUp(every time.Duration, batch int) Option {
	return func(a *Actor) {
		a.catchUpEvery = every
		a.catchUpBatch = batch
	}
}

// WithLoadBackoff bounds the delay between bucket reload attempts.
func WithLoadBackoff(initial, maxDelay time.Duration) Option {
	return func(a *Actor) {
		a.loadInitial = initial
		a.loadMax = maxDelay
	}
}

// WithRegistry shares a job definition cache.
func WithRegistry(r *job.Registry) Option {
	return func(a *Actor) { a.registry = r }
}

// WithThrottle sets the per-namespace dispatch throttle.
func WithThrottle(t *queue.Throttle) Option {
	return func(a *Actor) { a.throttle = t }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(a *Actor) { a.ext = r }
}

// WithWorkflowListener registers l for ONLINE/OFFLINE broadcasts.
func WithWorkflowListener(l WorkflowListener) Option {
	return func(a *Actor) { a.workflows = append(a.workflows, l) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Actor) { a.logger = l }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(a *Actor) { a.now = now }
}
