package trigger

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/workflow"
)

// FireFunc starts a run of wf for the slot at under eventID. The engine
// provides it; it persists the runs and publishes the TRIGGER broadcast.
type FireFunc func(ctx context.Context, eventID string, wf *workflow.Definition, at time.Time) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due triggers are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithRetryBackoff sets the delay before a failed slot fires again.
func WithRetryBackoff(strategy backoff.Strategy) Option {
	return func(s *Scheduler) { s.retry = strategy }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type entry struct {
	wf       *workflow.Definition
	bucket   int
	schedule cronlib.Schedule
	next     time.Time

	// A failed slot stays in next until it fires; it is retried from
	// retryAt on.
	attempts int
	retryAt  time.Time
}

// Scheduler fires timed workflow triggers for owned buckets.
type Scheduler struct {
	catalog     catalog.Reader
	fire        FireFunc
	bucketCount int
	logger      *slog.Logger

	tickInterval time.Duration
	retry        backoff.Strategy
	now          func() time.Time

	mu      sync.Mutex
	owned   map[int]bool
	entries map[int64]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cat catalog.Reader, fire FireFunc, bucketCount int, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		catalog:      cat,
		fire:         fire,
		bucketCount:  bucketCount,
		logger:       logger,
		tickInterval: time.Second,
		retry:        backoff.NewExponentialWithJitter(time.Second, time.Minute),
		now:          time.Now,
		owned:        make(map[int]bool),
		entries:      make(map[int64]*entry),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("trigger scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop stops the tick loop and waits for pending catalog reads.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

// Scheduled returns the ids of the workflows currently scheduled, sorted.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.entries))
	for wfID := range s.entries {
		out = append(out, wfID)
	}
	slices.Sort(out)
	return out
}

// Next returns the next fire time of workflowID.
func (s *Scheduler) Next(workflowID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[workflowID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

// BucketAcquired loads the ONLINE workflows of b.
func (s *Scheduler) BucketAcquired(b int) {
	s.mu.Lock()
	s.owned[b] = true
	s.mu.Unlock()

	s.async(func(ctx context.Context) {
		wfs, err := s.catalog.ListWorkflowsByStatus(ctx, workflow.StatusOnline)
		if err != nil {
			s.logger.Error("list online workflows",
				slog.Int("bucket", b),
				slog.String("error", err.Error()),
			)
			return
		}
		for _, wf := range wfs {
			if bucket.Of(wf.ID, s.bucketCount) == b {
				s.schedule(wf)
			}
		}
	})
}

// BucketLost stops firing the workflows of b.
func (s *Scheduler) BucketLost(b int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owned, b)
	for wfID, e := range s.entries {
		if e.bucket == b {
			delete(s.entries, wfID)
		}
	}
}

// WorkflowOnline starts firing workflowID when its bucket is owned.
func (s *Scheduler) WorkflowOnline(workflowID int64) {
	if !s.owns(bucket.Of(workflowID, s.bucketCount)) {
		return
	}
	s.async(func(ctx context.Context) {
		wf, err := s.catalog.GetWorkflowDefinition(ctx, workflowID)
		if err != nil {
			s.logger.Error("load online workflow",
				slog.Int64("workflow_id", workflowID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.schedule(wf)
	})
}

// WorkflowOffline stops firing workflowID. Runs already started continue.
func (s *Scheduler) WorkflowOffline(workflowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workflowID)
}

func (s *Scheduler) owns(b int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[b]
}

func (s *Scheduler) async(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// schedule adds or replaces the entry of wf. Workflows that are not
// ONLINE, not owned or not timed are ignored.
func (s *Scheduler) schedule(wf *workflow.Definition) {
	if wf.Status != workflow.StatusOnline {
		return
	}
	sched, err := ParseSchedule(wf.TriggerType, wf.TriggerValue)
	if err != nil {
		s.logger.Error("invalid workflow trigger",
			slog.Int64("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if sched == nil {
		return
	}

	b := bucket.Of(wf.ID, s.bucketCount)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned[b] {
		return
	}
	e := &entry{wf: wf, bucket: b, schedule: sched, next: sched.Next(s.now())}
	if prev, ok := s.entries[wf.ID]; ok && prev.wf.TriggerValue == wf.TriggerValue {
		e.next, e.attempts, e.retryAt = prev.next, prev.attempts, prev.retryAt
	}
	s.entries[wf.ID] = e
	s.logger.Debug("workflow trigger scheduled",
		slog.Int64("workflow_id", wf.ID),
		slog.String("trigger", string(wf.TriggerType)),
		slog.Time("next", e.next),
	)
}

// ──────────────────────────────────────────────────
// Tick loop
// ──────────────────────────────────────────────────

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx)
		}
	}
}

type due struct {
	e  *entry
	at time.Time
}

// tick fires every due slot. A slot moves forward only once its fire
// succeeded. Retries reuse the event id of the slot.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	// Slots missed between ticks collapse into a single fire.
	var fires []due
	s.mu.Lock()
	for _, e := range s.entries {
		if e.next.After(now) || e.retryAt.After(now) {
			continue
		}
		fires = append(fires, due{e: e, at: e.next})
	}
	s.mu.Unlock()

	for _, f := range fires {
		wf := f.e.wf
		eventID := EventID(wf.ID, f.at)
		err := s.fire(ctx, eventID, wf, f.at)
		attempts := s.fired(f, now, err)
		if err != nil {
			s.logger.Error("workflow trigger failed",
				slog.Int64("workflow_id", wf.ID),
				slog.String("event_id", eventID),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("workflow triggered",
			slog.Int64("workflow_id", wf.ID),
			slog.String("event_id", eventID),
			slog.Time("slot", f.at),
		)
	}
}

// fired records the outcome of f unless its entry was replaced or moved
// on meanwhile. It returns the failed attempts of the slot so far.
func (s *Scheduler) fired(f due, now time.Time, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := f.e
	if s.entries[e.wf.ID] != e || !e.next.Equal(f.at) {
		return e.attempts
	}
	if err != nil {
		e.attempts++
		e.retryAt = now.Add(s.retry.Delay(e.attempts))
		return e.attempts
	}
	e.attempts = 0
	e.retryAt = time.Time{}
	e.next = e.schedule.Next(now)
	return 0
}
