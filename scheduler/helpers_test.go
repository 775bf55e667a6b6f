package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/scheduler"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/workflow"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Clock
// ──────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────────
// Executor
// ──────────────────────────────────────────────────

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []*executor.Request
	kills []id.RunID
	err   error
	size  int
}

func (f *fakeExecutor) Dispatch(_ context.Context, req *executor.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func (f *fakeExecutor) Kill(_ context.Context, runID id.RunID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, runID)
	return nil
}

func (f *fakeExecutor) Size() int { return f.size }

func (f *fakeExecutor) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// dispatches returns the requests issued for runID.
func (f *fakeExecutor) dispatches(runID id.RunID) []*executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*executor.Request
	for _, r := range f.reqs {
		if r.Run.ID == runID {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeExecutor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeExecutor) killed(runID id.RunID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.kills, runID)
}

// ──────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────

type counter struct {
	completed atomic.Int32
	retrying  atomic.Int32
	failed    atomic.Int32
	cancelled atomic.Int32
	timedOut  atomic.Int32
	workflows atomic.Int32
	applied   atomic.Int32
}

func (c *counter) Name() string { return "counter" }

func (c *counter) OnJobCompleted(context.Context, *job.Run, time.Duration) error {
	c.completed.Add(1)
	return nil
}

func (c *counter) OnJobRetrying(context.Context, *job.Run, int, time.Time) error {
	c.retrying.Add(1)
	return nil
}

func (c *counter) OnJobFailed(context.Context, *job.Run, string) error {
	c.failed.Add(1)
	return nil
}

func (c *counter) OnJobCancelled(context.Context, *job.Run, string) error {
	c.cancelled.Add(1)
	return nil
}

func (c *counter) OnJobTimedOut(context.Context, *job.Run) error {
	c.timedOut.Add(1)
	return nil
}

func (c *counter) OnWorkflowRunCompleted(context.Context, *workflow.Run, time.Duration) error {
	c.workflows.Add(1)
	return nil
}

func (c *counter) OnBroadcastApplied(context.Context, *broadcast.Event) error {
	c.applied.Add(1)
	return nil
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

// flakyCatalog fails the first bucket loads.
type flakyCatalog struct {
	*memory.Store
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyCatalog) LoadJobRunsByBucket(ctx context.Context, b int) ([]*job.Run, error) {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return f.Store.LoadJobRunsByBucket(ctx, b)
}

// gatedCatalog holds bucket loads until open is closed.
type gatedCatalog struct {
	*memory.Store
	open    chan struct{}
	waiting atomic.Int32
}

func newGatedCatalog(s *memory.Store) *gatedCatalog {
	return &gatedCatalog{Store: s, open: make(chan struct{})}
}

func (g *gatedCatalog) LoadJobRunsByBucket(ctx context.Context, b int) ([]*job.Run, error) {
	g.waiting.Add(1)
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Store.LoadJobRunsByBucket(ctx, b)
}

// flakyDefinitions fails the first workflow definition reads.
type flakyDefinitions struct {
	*memory.Store
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyDefinitions) GetWorkflowDefinition(ctx context.Context, workflowID int64) (*workflow.Definition, error) {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.Store.GetWorkflowDefinition(ctx, workflowID)
}

// historyCatalog records every status written for a run.
type historyCatalog struct {
	*memory.Store
	mu      sync.Mutex
	history map[id.RunID][]job.Status
}

func newHistoryCatalog(s *memory.Store) *historyCatalog {
	return &historyCatalog{Store: s, history: make(map[id.RunID][]job.Status)}
}

func (h *historyCatalog) SaveRun(ctx context.Context, r *job.Run) error {
	h.mu.Lock()
	h.history[r.ID] = append(h.history[r.ID], r.Status)
	h.mu.Unlock()
	return h.Store.SaveRun(ctx, r)
}

func (h *historyCatalog) statuses(runID id.RunID) []job.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.history[runID])
}

// ──────────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────────

type fixture struct {
	t     *testing.T
	store *memory.Store
	exec  *fakeExecutor
	hooks *counter
	clock *clock
	actor *scheduler.Actor
}

func newFixture(t *testing.T, store *memory.Store, opts ...scheduler.Option) *fixture {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	return startFixture(t, store, store, opts...)
}

func startFixture(t *testing.T, store *memory.Store, cat catalog.Catalog, opts ...scheduler.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		store: store,
		exec:  &fakeExecutor{},
		hooks: &counter{},
		clock: &clock{now: t0},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := ext.NewRegistry(logger)
	reg.Register(f.hooks)

	base := []scheduler.Option{
		scheduler.WithBucketCount(1),
		scheduler.WithTickInterval(5 * time.Millisecond),
		scheduler.WithCatchUp(0, 100),
		scheduler.WithLoadBackoff(time.Millisecond, 5*time.Millisecond),
		scheduler.WithClock(f.clock.Now),
		scheduler.WithExtensions(reg),
		scheduler.WithLogger(logger),
	}
	f.actor = scheduler.New("node-1", cat, f.exec, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.actor.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) send(msg scheduler.Message) {
	f.t.Helper()
	if err := f.actor.Send(context.Background(), msg); err != nil {
		f.t.Fatalf("Send(%T): %v", msg, err)
	}
}

// own acquires bucket 0 and waits for its load to finish.
func (f *fixture) own() {
	f.t.Helper()
	f.send(scheduler.BucketAcquired{Bucket: 0})
	eventually(f.t, "bucket 0 loaded", func() bool {
		s, err := f.actor.Snapshot(context.Background())
		return err == nil && slices.Contains(s.Owned, 0) && len(s.Loading) == 0
	})
}

func (f *fixture) trigger(eventID string, workflowID int64, jobIDs []int64, edges []workflow.Edge) {
	f.t.Helper()
	f.send(scheduler.BroadcastReceived{Event: &broadcast.Event{
		ID:        eventID,
		Op:        broadcast.OpTrigger,
		Level:     broadcast.LevelWorkflow,
		Timestamp: f.clock.Now(),
		Payload: &broadcast.Trigger{
			WorkflowID: workflowID,
			JobIDs:     jobIDs,
			Edges:      edges,
		},
	}})
}

func (f *fixture) complete(runID id.RunID, status job.Status) {
	f.t.Helper()
	f.send(scheduler.JobCompleted{RunID: runID, Status: status})
}

func (f *fixture) waitDispatches(runID id.RunID, n int) []*executor.Request {
	f.t.Helper()
	eventually(f.t, "dispatch of "+runID.String(), func() bool {
		return len(f.exec.dispatches(runID)) >= n
	})
	return f.exec.dispatches(runID)
}

func (f *fixture) waitRunStatus(runID id.RunID, want job.Status) *job.Run {
	f.t.Helper()
	var got *job.Run
	eventually(f.t, "run "+runID.String()+" "+string(want), func() bool {
		r, err := f.store.GetJobRun(context.Background(), runID)
		if err != nil {
			return false
		}
		got = r
		return r.Status == want
	})
	return got
}

func (f *fixture) waitWorkflowStatus(wfRunID id.RunID, want workflow.RunStatus) {
	f.t.Helper()
	eventually(f.t, "workflow run "+string(want), func() bool {
		wr, err := f.store.GetWorkflowRun(context.Background(), wfRunID)
		return err == nil && wr.Status == want
	})
}

func saveJob(t *testing.T, s *memory.Store, def *job.Definition) {
	t.Helper()
	if def.Route == "" {
		def.Route = job.RouteFirst
	}
	if def.Block == "" {
		def.Block = job.BlockParallel
	}
	def.Enabled = true
	if err := s.SaveJobDefinition(context.Background(), def); err != nil {
		t.Fatal(err)
	}
}

// persistTrigger stores the runs an event for workflowID would create, as
// if another node had entered them.
func persistTrigger(t *testing.T, s *memory.Store, eventID string, workflowID int64, defs ...*job.Definition) []*job.Run {
	t.Helper()
	byID := make(map[int64]*job.Definition, len(defs))
	jobIDs := make([]int64, 0, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
		jobIDs = append(jobIDs, d.ID)
	}
	p := &broadcast.Trigger{WorkflowID: workflowID, JobIDs: jobIDs}
	wr, runs, err := scheduler.BuildTrigger(eventID, p, t0, byID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PersistNewRuns(context.Background(), wr, runs); err != nil {
		t.Fatal(err)
	}
	return runs
}

// markRunning stores runID as dispatched at t0.
func markRunning(t *testing.T, s *memory.Store, runID id.RunID) {
	t.Helper()
	ctx := context.Background()
	r, err := s.GetJobRun(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	r.Status = job.StatusRunning
	r.DispatchedAt = t0
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) stats() scheduler.Stats {
	f.t.Helper()
	s, err := f.actor.Snapshot(context.Background())
	if err != nil {
		f.t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func runOf(eventID string, jobID int64) id.RunID {
	return id.Derive(eventID, id.JobRunEntity(jobID))
}

func workflowRunOf(eventID string, workflowID int64) id.RunID {
	return id.Derive(eventID, id.WorkflowRunEntity(workflowID))
}

func split(start, end int64) crdt.Range { return crdt.Range{Start: start, End: end} }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
