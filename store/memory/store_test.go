package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.now }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Catalog tests
// ──────────────────────────────────────────────────

func newRun(runID, wfRunID id.RunID, bucket int) *job.Run {
	return &job.Run{ID: runID, WorkflowRunID: wfRunID, WorkflowID: 1, JobID: int64(runID), Bucket: bucket, Status: job.StatusWaiting}
}

func TestPersistNewRuns_IdempotentAndSequenced(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	wr := &workflow.Run{ID: 10, WorkflowID: 1, Status: workflow.RunRunning}

	first := []*job.Run{newRun(1, 10, 0), newRun(2, 10, 0)}
	if err := s.PersistNewRuns(ctx, wr, first); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}
	if first[0].Seq != 1 || first[1].Seq != 2 {
		t.Fatalf("Seq = %d,%d, want 1,2", first[0].Seq, first[1].Seq)
	}

	again := []*job.Run{newRun(2, 10, 0), newRun(3, 10, 0)}
	again[0].Status = job.StatusRunning
	if err := s.PersistNewRuns(ctx, wr, again); err != nil {
		t.Fatalf("PersistNewRuns: %v", err)
	}
	if again[0].Seq != 2 || again[1].Seq != 3 {
		t.Errorf("Seq = %d,%d, want 2,3", again[0].Seq, again[1].Seq)
	}

	stored, err := s.GetJobRun(ctx, 2)
	if err != nil {
		t.Fatalf("GetJobRun: %v", err)
	}
	if stored.Status != job.StatusWaiting {
		t.Errorf("re-persist overwrote status: %s", stored.Status)
	}
	if maxSeq, _ := s.MaxRunSeq(ctx); maxSeq != 3 {
		t.Errorf("MaxRunSeq = %d, want 3", maxSeq)
	}
}

func TestLoadJobRunsByBucket_SkipsFinishedWorkflowRuns(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_ = s.PersistNewRuns(ctx, &workflow.Run{ID: 10, Status: workflow.RunRunning}, []*job.Run{newRun(1, 10, 3), newRun(2, 10, 4)})
	_ = s.PersistNewRuns(ctx, &workflow.Run{ID: 20, Status: workflow.RunRunning}, []*job.Run{newRun(3, 20, 3)})
	_ = s.UpdateRunStatus(ctx, 1, job.StatusSuccess, "")
	_ = s.UpdateWorkflowRunStatus(ctx, 20, workflow.RunSuccess, time.Now())

	runs, err := s.LoadJobRunsByBucket(ctx, 3)
	if err != nil {
		t.Fatalf("LoadJobRunsByBucket: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != 1 {
		t.Fatalf("loaded %d runs, want only run 1", len(runs))
	}
	if runs[0].Status != job.StatusSuccess {
		t.Errorf("finished sibling should be loaded with its status, got %s", runs[0].Status)
	}
}

func TestLoadJobRunsSince(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	var runs []*job.Run
	for i := range 5 {
		runs = append(runs, newRun(id.RunID(100+i), 1, 0))
	}
	_ = s.PersistNewRuns(ctx, &workflow.Run{ID: 1}, runs)

	got, maxSeq, err := s.LoadJobRunsSince(ctx, 2, 2)
	if err != nil {
		t.Fatalf("LoadJobRunsSince: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 3 || maxSeq != 4 {
		t.Fatalf("got %d runs max=%d, want seq 3,4 max=4", len(got), maxSeq)
	}

	got, maxSeq, _ = s.LoadJobRunsSince(ctx, 5, 10)
	if len(got) != 0 || maxSeq != 5 {
		t.Errorf("past the end: got %d runs max=%d, want 0 max=5", len(got), maxSeq)
	}
}

func TestMergeShardProgress_Unions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := newRun(1, 1, 0)
	r.Route, r.ShardTotal = job.RouteSharding, 20
	_ = s.PersistNewRuns(ctx, &workflow.Run{ID: 1}, []*job.Run{r})

	_ = s.MergeShardProgress(ctx, 1, crdt.NewRangeSet(crdt.Range{Start: 0, End: 10}))
	_ = s.MergeShardProgress(ctx, 1, crdt.NewRangeSet(crdt.Range{Start: 0, End: 5}))
	_ = s.MergeShardProgress(ctx, 1, crdt.NewRangeSet(crdt.Range{Start: 10, End: 20}))

	got, _ := s.GetJobRun(ctx, 1)
	if got.Shards == nil || !got.Shards.Finished() {
		t.Fatalf("shards = %+v, want finished", got.Shards)
	}
	if err := s.MergeShardProgress(ctx, 99, crdt.RangeSet{}); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestDefinitions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.GetJobDefinition(ctx, 1); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	_ = s.SaveWorkflowDefinition(ctx, &workflow.Definition{ID: 2, Status: workflow.StatusDraft})
	_ = s.SaveWorkflowDefinition(ctx, &workflow.Definition{ID: 1, Status: workflow.StatusOnline})
	if err := s.SetWorkflowStatus(ctx, 2, workflow.StatusOnline); err != nil {
		t.Fatalf("SetWorkflowStatus: %v", err)
	}
	online, _ := s.ListWorkflowsByStatus(ctx, workflow.StatusOnline)
	if len(online) != 2 || online[0].ID != 1 || online[1].ID != 2 {
		t.Errorf("online workflows = %v", online)
	}
}

// ──────────────────────────────────────────────────
// Cluster tests
// ──────────────────────────────────────────────────

func TestBucketLeases(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	s := New(WithClock(clk.Now))
	ctx := context.Background()

	if ok, _ := s.AcquireBucket(ctx, 0, "a", 10*time.Second); !ok {
		t.Fatal("a should acquire free bucket")
	}
	if ok, _ := s.AcquireBucket(ctx, 0, "b", 10*time.Second); ok {
		t.Fatal("b should not acquire a held bucket")
	}
	if ok, _ := s.RenewBucket(ctx, 0, "b", 10*time.Second); ok {
		t.Fatal("b should not renew a's lease")
	}

	clk.Advance(11 * time.Second)
	if owner, _ := s.BucketOwner(ctx, 0); owner != "" {
		t.Fatalf("owner after expiry = %q, want none", owner)
	}
	if ok, _ := s.RenewBucket(ctx, 0, "a", 10*time.Second); ok {
		t.Fatal("a should not renew an expired lease")
	}
	if ok, _ := s.AcquireBucket(ctx, 0, "b", 10*time.Second); !ok {
		t.Fatal("b should acquire an expired lease")
	}

	_ = s.ReleaseBucket(ctx, 0, "a")
	if owner, _ := s.BucketOwner(ctx, 0); owner != "b" {
		t.Fatalf("release by non-holder changed owner to %q", owner)
	}
	_ = s.ReleaseBucket(ctx, 0, "b")
	if owner, _ := s.BucketOwner(ctx, 0); owner != "" {
		t.Fatalf("owner after release = %q", owner)
	}
}

func TestNodeRegistry(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	s := New(WithClock(clk.Now))
	ctx := context.Background()

	_ = s.RegisterNode(ctx, &cluster.Node{ID: "a", State: cluster.NodeActive})
	clk.Advance(5 * time.Second)
	_ = s.RegisterNode(ctx, &cluster.Node{ID: "b", State: cluster.NodeActive})
	clk.Advance(8 * time.Second)

	nodes, _ := s.ListNodes(ctx, 10*time.Second)
	if len(nodes) != 1 || nodes[0].ID != "b" {
		t.Fatalf("alive nodes = %d, want only b", len(nodes))
	}

	if err := s.HeartbeatNode(ctx, "a", cluster.NodeDraining); err != nil {
		t.Fatalf("HeartbeatNode: %v", err)
	}
	nodes, _ = s.ListNodes(ctx, 10*time.Second)
	if len(nodes) != 2 || nodes[0].ID != "a" || nodes[0].State != cluster.NodeDraining {
		t.Fatalf("nodes after heartbeat = %+v", nodes)
	}

	if err := s.DeregisterNode(ctx, "zzz"); !errors.Is(err, cadence.ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Hub tests
// ──────────────────────────────────────────────────

func receive(t *testing.T, ch <-chan *broadcast.Event) *broadcast.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_FanOut(t *testing.T) {
	t.Parallel()
	h := NewHub(WithCodec(&broadcast.MsgpackCodec{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := h.Subscribe(ctx)
	b, _ := h.Subscribe(ctx)

	e := &broadcast.Event{ID: "evt_1", Payload: &broadcast.Offline{WorkflowID: 7}}
	if err := h.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ea, eb := receive(t, a), receive(t, b)
	if ea.ID != "evt_1" || eb.ID != "evt_1" {
		t.Fatalf("ids = %s,%s", ea.ID, eb.ID)
	}
	if ea.Payload == eb.Payload {
		t.Error("subscribers share a payload")
	}
	if p, ok := ea.Payload.(*broadcast.Offline); !ok || p.WorkflowID != 7 {
		t.Errorf("payload = %#v", ea.Payload)
	}
}

func TestHub_Duplicates(t *testing.T) {
	t.Parallel()
	h := NewHub(WithDuplicates())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := h.Subscribe(ctx)
	_ = h.Publish(ctx, &broadcast.Event{ID: "evt_1", Payload: &broadcast.Online{WorkflowID: 1}})
	if receive(t, ch).ID != "evt_1" || receive(t, ch).ID != "evt_1" {
		t.Fatal("expected the event twice")
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch, _ := h.Subscribe(context.Background())
	_ = h.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed")
	}
	if err := h.Publish(context.Background(), &broadcast.Event{Payload: &broadcast.Online{}}); !errors.Is(err, cadence.ErrTransportClosed) {
		t.Errorf("Publish after Close = %v, want ErrTransportClosed", err)
	}
}
