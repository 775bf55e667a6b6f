//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/store/postgres"
	"github.com/xraph/cadence/workflow"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.now }

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) (*postgres.Store, *testClock) {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cadence_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := postgres.New(ctx, connStr,
		postgres.WithLogger(slog.Default()),
		postgres.WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// Migrate is idempotent.
	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("second migrate: %v", migErr)
	}
	return store, clock
}

func newRun(runID, wfRunID id.RunID, bucket int, at time.Time) *job.Run {
	return &job.Run{
		ID: runID, WorkflowRunID: wfRunID, WorkflowID: 1, JobID: int64(runID), Bucket: bucket,
		Route: job.RouteFirst, Block: job.BlockParallel, Status: job.StatusWaiting,
		TriggerTime: at, CreatedAt: at, UpdatedAt: at, MaxRetries: 2,
		RetryInterval: time.Second, Timeout: time.Minute,
	}
}

// ──────────────────────────────────────────────────
// Schema tests
// ──────────────────────────────────────────────────

func TestSchema_ConcurrentMigrateAndCheck(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	// Nodes starting together all migrate.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Migrate(ctx)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("Migrate #%d: %v", i, err)
		}
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 2 {
		t.Errorf("SchemaVersion = %d, want 2", version)
	}
	if err := store.CheckSchema(ctx); err != nil {
		t.Errorf("CheckSchema: %v", err)
	}
	if errors.Is(store.CheckSchema(ctx), postgres.ErrSchemaOutdated) {
		t.Error("migrated schema reported outdated")
	}
}

// ──────────────────────────────────────────────────
// Definition tests
// ──────────────────────────────────────────────────

func TestDefinitions(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	jd := &job.Definition{
		ID: 7, Name: "extract", WorkflowID: 1, Namespace: "etl", Route: job.RouteSharding,
		Block: job.BlockDiscardLater, Timeout: 30 * time.Second, MaxRetries: 3,
		RetryInterval: 5 * time.Second, Enabled: true, ShardCount: 4, ShardTotal: 1000,
		Params: []byte(`{"table":"orders"}`),
	}
	if err := s.SaveJobDefinition(ctx, jd); err != nil {
		t.Fatalf("SaveJobDefinition: %v", err)
	}
	got, err := s.GetJobDefinition(ctx, 7)
	if err != nil {
		t.Fatalf("GetJobDefinition: %v", err)
	}
	opts := cmp.FilterPath(func(p cmp.Path) bool {
		name := p.Last().String()
		return name == ".CreatedAt" || name == ".UpdatedAt"
	}, cmp.Ignore())
	if diff := cmp.Diff(jd, got, opts); diff != "" {
		t.Errorf("job definition mismatch (-want +got):\n%s", diff)
	}
	if _, err = s.GetJobDefinition(ctx, 99); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Errorf("missing job err = %v, want ErrJobNotFound", err)
	}

	wd := &workflow.Definition{
		ID: 1, Name: "nightly", TriggerType: workflow.TriggerCron, TriggerValue: "0 2 * * *",
		Status: workflow.StatusOnline, JobIDs: []int64{7, 8},
		Edges: []workflow.Edge{{JobID: 8, ParentJobID: 7}},
	}
	if err = s.SaveWorkflowDefinition(ctx, wd); err != nil {
		t.Fatalf("SaveWorkflowDefinition: %v", err)
	}
	online, err := s.ListWorkflowsByStatus(ctx, workflow.StatusOnline)
	if err != nil {
		t.Fatalf("ListWorkflowsByStatus: %v", err)
	}
	if len(online) != 1 || !cmp.Equal(online[0].Edges, wd.Edges) {
		t.Fatalf("online = %+v, want nightly with one edge", online)
	}

	if err = s.SetWorkflowStatus(ctx, 1, workflow.StatusOffline); err != nil {
		t.Fatalf("SetWorkflowStatus: %v", err)
	}
	if err = s.SetWorkflowStatus(ctx, 42, workflow.StatusOffline); !errors.Is(err, cadence.ErrWorkflowNotFound) {
		t.Errorf("SetWorkflowStatus(missing) = %v, want ErrWorkflowNotFound", err)
	}
	online, _ = s.ListWorkflowsByStatus(ctx, workflow.StatusOnline)
	if len(online) != 0 {
		t.Errorf("online after offline = %d, want 0", len(online))
	}
}

// ──────────────────────────────────────────────────
// Run tests
// ──────────────────────────────────────────────────

func TestPersistNewRuns_IdempotentAndSequenced(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	at := clock.Now()
	wr := &workflow.Run{ID: 10, WorkflowID: 1, EventID: "evt", Status: workflow.RunRunning, Bucket: 0, CreatedAt: at}

	first := []*job.Run{newRun(1, 10, 0, at), newRun(2, 10, 0, at)}
	first[1].Parents = []id.RunID{1}
	if err := s.PersistNewRuns(ctx, wr, first); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}
	if first[0].Seq == 0 || first[1].Seq <= first[0].Seq {
		t.Fatalf("Seq = %d,%d, want increasing", first[0].Seq, first[1].Seq)
	}

	again := []*job.Run{newRun(1, 10, 0, at), newRun(2, 10, 0, at)}
	again[0].Status = job.StatusSuccess
	if err := s.PersistNewRuns(ctx, wr, again); err != nil {
		t.Fatalf("second PersistNewRuns: %v", err)
	}
	if again[0].Seq != first[0].Seq || again[1].Seq != first[1].Seq {
		t.Errorf("repeat Seq = %d,%d, want %d,%d", again[0].Seq, again[1].Seq, first[0].Seq, first[1].Seq)
	}

	runs, err := s.ListJobRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Status != job.StatusWaiting {
		t.Fatalf("runs = %+v, want two untouched WAITING runs", runs)
	}
	if diff := cmp.Diff([]id.RunID{1}, runs[1].Parents); diff != "" {
		t.Errorf("Parents mismatch (-want +got):\n%s", diff)
	}
	if runs[0].Timeout != time.Minute || runs[0].RetryInterval != time.Second {
		t.Errorf("durations = %v,%v, want 1m,1s", runs[0].Timeout, runs[0].RetryInterval)
	}

	maxSeq, err := s.MaxRunSeq(ctx)
	if err != nil {
		t.Fatalf("MaxRunSeq: %v", err)
	}
	if maxSeq != first[1].Seq {
		t.Errorf("MaxRunSeq = %d, want %d", maxSeq, first[1].Seq)
	}

	since, next, err := s.LoadJobRunsSince(ctx, first[0].Seq, 10)
	if err != nil {
		t.Fatalf("LoadJobRunsSince: %v", err)
	}
	if len(since) != 1 || since[0].ID != 2 || next != first[1].Seq {
		t.Errorf("since = %d runs, next = %d; want run 2 and %d", len(since), next, first[1].Seq)
	}
}

func TestSaveRunAndBucketLoad(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	at := clock.Now()

	live := &workflow.Run{ID: 10, WorkflowID: 1, EventID: "a", Status: workflow.RunRunning, Bucket: 3, CreatedAt: at}
	done := &workflow.Run{ID: 20, WorkflowID: 1, EventID: "b", Status: workflow.RunRunning, Bucket: 3, CreatedAt: at}
	if err := s.PersistNewRuns(ctx, live, []*job.Run{newRun(1, 10, 3, at)}); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}
	if err := s.PersistNewRuns(ctx, done, []*job.Run{newRun(2, 20, 3, at)}); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}
	if err := s.UpdateWorkflowRunStatus(ctx, 20, workflow.RunSuccess, at); err != nil {
		t.Fatalf("UpdateWorkflowRunStatus: %v", err)
	}

	r := newRun(1, 10, 3, at)
	r.Status = job.StatusWaiting
	r.RetryCount = 1
	r.TriggerTime = at.Add(time.Second)
	r.Message = "boom"
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, newRun(99, 10, 3, at)); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Errorf("SaveRun(missing) = %v, want ErrRunNotFound", err)
	}

	loaded, err := s.LoadJobRunsByBucket(ctx, 3)
	if err != nil {
		t.Fatalf("LoadJobRunsByBucket: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != 1 {
		t.Fatalf("loaded = %+v, want only run 1", loaded)
	}
	if loaded[0].RetryCount != 1 || loaded[0].Message != "boom" || !loaded[0].TriggerTime.Equal(r.TriggerTime) {
		t.Errorf("loaded run = %+v, want saved retry bookkeeping", loaded[0])
	}

	wr, err := s.GetWorkflowRun(ctx, 20)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if wr.Status != workflow.RunSuccess || wr.FinishedAt == nil {
		t.Errorf("workflow run = %+v, want finished SUCCESS", wr)
	}
}

func TestMergeShardProgress_Union(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	at := clock.Now()

	r := newRun(1, 10, 0, at)
	r.Route = job.RouteSharding
	r.ShardTotal = 100
	wr := &workflow.Run{ID: 10, WorkflowID: 1, EventID: "e", Status: workflow.RunRunning, CreatedAt: at}
	if err := s.PersistNewRuns(ctx, wr, []*job.Run{r}); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}

	for _, rg := range []crdt.Range{{Start: 0, End: 50}, {Start: 0, End: 50}, {Start: 50, End: 100}} {
		if err := s.MergeShardProgress(ctx, 1, crdt.NewRangeSet(rg)); err != nil {
			t.Fatalf("MergeShardProgress(%s): %v", rg, err)
		}
	}
	if err := s.MergeShardProgress(ctx, 77, crdt.NewRangeSet(crdt.Range{Start: 0, End: 1})); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Errorf("MergeShardProgress(missing) = %v, want ErrRunNotFound", err)
	}

	got, err := s.GetJobRun(ctx, 1)
	if err != nil {
		t.Fatalf("GetJobRun: %v", err)
	}
	if got.Shards == nil || !got.Shards.Finished() {
		t.Fatalf("shards = %+v, want finished", got.Shards)
	}
}

// ──────────────────────────────────────────────────
// Cluster tests
// ──────────────────────────────────────────────────

func TestBucketLeases(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	if ok, err := s.AcquireBucket(ctx, 0, "a", 10*time.Second); err != nil || !ok {
		t.Fatalf("AcquireBucket(a) = %v, %v", ok, err)
	}
	if ok, err := s.AcquireBucket(ctx, 0, "b", 10*time.Second); err != nil || ok {
		t.Fatalf("AcquireBucket(b) = %v, %v; want false", ok, err)
	}
	if ok, err := s.RenewBucket(ctx, 0, "b", 10*time.Second); err != nil || ok {
		t.Fatalf("RenewBucket(b) = %v, %v; want false", ok, err)
	}

	clock.Advance(11 * time.Second)
	if owner, _ := s.BucketOwner(ctx, 0); owner != "" {
		t.Errorf("owner after expiry = %q, want empty", owner)
	}
	if ok, err := s.RenewBucket(ctx, 0, "a", 10*time.Second); err != nil || ok {
		t.Fatalf("RenewBucket(a) after expiry = %v, %v; want false", ok, err)
	}
	if ok, err := s.AcquireBucket(ctx, 0, "b", 10*time.Second); err != nil || !ok {
		t.Fatalf("AcquireBucket(b) after expiry = %v, %v", ok, err)
	}

	if err := s.ReleaseBucket(ctx, 0, "a"); err != nil {
		t.Fatalf("ReleaseBucket(a): %v", err)
	}
	if owner, _ := s.BucketOwner(ctx, 0); owner != "b" {
		t.Errorf("owner = %q, want b", owner)
	}
}

func TestNodes(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	if err := s.RegisterNode(ctx, &cluster.Node{ID: "n1", State: cluster.NodeActive}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	clock.Advance(30 * time.Second)
	if err := s.RegisterNode(ctx, &cluster.Node{ID: "n2", State: cluster.NodeActive}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	nodes, err := s.ListNodes(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "n2" {
		t.Fatalf("alive = %+v, want n2", nodes)
	}

	if err = s.HeartbeatNode(ctx, "n1", cluster.NodeActive); err != nil {
		t.Fatalf("HeartbeatNode: %v", err)
	}
	nodes, _ = s.ListNodes(ctx, 10*time.Second)
	if len(nodes) != 2 || nodes[0].ID != "n1" {
		t.Fatalf("alive = %+v, want n1 then n2", nodes)
	}

	if err = s.DeregisterNode(ctx, "n1"); err != nil {
		t.Fatalf("DeregisterNode: %v", err)
	}
	if err = s.DeregisterNode(ctx, "n1"); !errors.Is(err, cadence.ErrNodeNotFound) {
		t.Errorf("second DeregisterNode = %v, want ErrNodeNotFound", err)
	}
}
