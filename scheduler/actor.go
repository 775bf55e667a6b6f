package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/dependency"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/workflow"
)

// WorkflowListener learns about ONLINE/OFFLINE broadcasts. Calls are made
// from the actor goroutine and must not block.
type WorkflowListener interface {
	WorkflowOnline(workflowID int64)
	WorkflowOffline(workflowID int64)
}

type bucketState struct {
	epoch   uint64
	loading bool
	// Messages for runs of the bucket that arrived during the load.
	parked []Message
}

type workflowState struct {
	run  *workflow.Run
	jobs []id.RunID
}

// Actor is the scheduling actor of one node. Create it with New, start it
// with Run and talk to it with Send.
type Actor struct {
	nodeID   string
	catalog  catalog.Catalog
	exec     executor.Executor
	registry *job.Registry
	throttle *queue.Throttle
	ext      *ext.Registry
	logger   *slog.Logger
	now      func() time.Time

	workflows []WorkflowListener

	bucketCount     int
	tick            time.Duration
	catchUpEvery    time.Duration
	catchUpBatch    int
	dedupTTL        time.Duration
	ioLimit         int
	inboxSize       int
	loadInitial     time.Duration
	loadMax         time.Duration
	dispatchTimeout time.Duration

	inbox   chan Message
	stopped chan struct{}
	sem     *semaphore.Weighted
	ioWG    sync.WaitGroup
	ioCtx   context.Context
	writes  *writer
	loadBO  backoff.Strategy
	started bool

	// State below is owned by the Run goroutine.
	runs      map[id.RunID]*job.Run
	wfRuns    map[id.RunID]*workflowState
	buckets   map[int]*bucketState
	queue     *queue.TriggerQueue
	deps      *dependency.Tracker
	dedup     *broadcast.Dedup
	finished  *broadcast.Dedup
	held      map[id.RunID]bool
	epoch     uint64
	seen      crdt.Watermark
	cursor    crdt.Watermark
	cursorSet bool
	cursorReq bool
	catching  bool
}

// New creates an actor for nodeID.
func New(nodeID string, cat catalog.Catalog, exec executor.Executor, opts ...Option) *Actor {
	cfg := cadence.DefaultConfig()
	a := &Actor{
		nodeID:  nodeID,
		catalog: cat,
		exec:    exec,
		logger:  slog.Default(),
		now:     time.Now,
		runs:    make(map[id.RunID]*job.Run),
		wfRuns:  make(map[id.RunID]*workflowState),
		buckets: make(map[int]*bucketState),
		queue:   queue.NewTriggerQueue(),
		deps:    dependency.New(),
		held:    make(map[id.RunID]bool),
		stopped: make(chan struct{}),
	}
	WithConfig(cfg)(a)
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = job.NewRegistry(cat)
	}
	if a.throttle == nil {
		a.throttle = queue.NewThrottle()
	}
	if a.ext == nil {
		a.ext = ext.NewRegistry(a.logger)
	}
	a.inbox = make(chan Message, a.inboxSize)
	a.sem = semaphore.NewWeighted(int64(a.ioLimit))
	a.dedup = broadcast.NewDedup(a.dedupTTL)
	a.finished = broadcast.NewDedup(a.dedupTTL)
	a.loadBO = backoff.NewExponentialWithJitter(a.loadInitial, a.loadMax)
	a.writes = newWriter(a.logger)
	return a
}

// NodeID returns the node the actor schedules for.
func (a *Actor) NodeID() string { return a.nodeID }

// BucketCount returns the keyspace size.
func (a *Actor) BucketCount() int { return a.bucketCount }

// Send enqueues msg. It blocks while the inbox is full and fails with
// cadence.ErrActorStopped once Run has returned.
func (a *Actor) Send(ctx context.Context, msg Message) error {
	select {
	case <-a.stopped:
		return cadence.ErrActorStopped
	default:
	}
	select {
	case a.inbox <- msg:
		return nil
	case <-a.stopped:
		return cadence.ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect returns a copy of a resident run.
func (a *Actor) Inspect(ctx context.Context, runID id.RunID) (*job.Run, bool, error) {
	reply := make(chan *job.Run, 1)
	if err := a.Send(ctx, inspect{runID: runID, reply: reply}); err != nil {
		return nil, false, err
	}
	select {
	case r := <-reply:
		return r, r != nil, nil
	case <-a.stopped:
		return nil, false, cadence.ErrActorStopped
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Snapshot returns the actor's current Stats.
func (a *Actor) Snapshot(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := a.Send(ctx, snapshot{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-a.stopped:
		return Stats{}, cadence.ErrActorStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// BucketAcquired implements bucket.Listener.
func (a *Actor) BucketAcquired(b int) { a.notify(BucketAcquired{Bucket: b}) }

// BucketLost implements bucket.Listener.
func (a *Actor) BucketLost(b int) { a.notify(BucketLost{Bucket: b}) }

func (a *Actor) notify(msg Message) {
	if err := a.Send(context.Background(), msg); err != nil {
		a.logger.Debug("actor notification dropped", slog.String("error", err.Error()))
	}
}

// Run processes messages until ctx is cancelled. In-flight I/O is
// abandoned and queued catalog writes are flushed before it returns.
func (a *Actor) Run(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true

	ioCtx, cancel := context.WithCancel(ctx)
	a.ioCtx = ioCtx
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		a.writes.run()
	}()

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	var catchUpC <-chan time.Time
	if a.catchUpEvery > 0 {
		t := time.NewTicker(a.catchUpEvery)
		defer t.Stop()
		catchUpC = t.C
	}

	a.loadCursor()
	a.logger.Info("scheduling actor started",
		slog.String("node_id", a.nodeID),
		slog.Int("bucket_count", a.bucketCount),
		slog.Duration("tick", a.tick),
	)

	for {
		select {
		case <-ctx.Done():
			cancel()
			close(a.stopped)
			a.ioWG.Wait()
			a.writes.close()
			<-writerDone
			a.logger.Info("scheduling actor stopped",
				slog.String("node_id", a.nodeID),
				slog.Int("resident_runs", len(a.runs)),
			)
			return nil
		case msg := <-a.inbox:
			msg.apply(a)
		case <-ticker.C:
			a.timerFired(a.now())
		case <-catchUpC:
			a.catchUp()
		}
	}
}

// io runs fn on a helper goroutine bounded by the I/O semaphore and posts
// its result back to the actor. A nil result posts nothing.
func (a *Actor) io(fn func(ctx context.Context) Message) {
	a.ioWG.Add(1)
	go func() {
		defer a.ioWG.Done()
		if err := a.sem.Acquire(a.ioCtx, 1); err != nil {
			return
		}
		msg := fn(a.ioCtx)
		a.sem.Release(1)
		if msg == nil {
			return
		}
		select {
		case a.inbox <- msg:
		case <-a.stopped:
		}
	}()
}

// after posts msg once d has elapsed.
func (a *Actor) after(d time.Duration, msg Message) {
	a.ioWG.Add(1)
	go func() {
		defer a.ioWG.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-a.ioCtx.Done():
			return
		}
		select {
		case a.inbox <- msg:
		case <-a.stopped:
		}
	}()
}

func (a *Actor) stats() Stats {
	s := Stats{
		Runs:         len(a.runs),
		Queued:       a.queue.Len(),
		WorkflowRuns: len(a.wfRuns),
		MaxRunSeq:    max(a.seen.Value(), a.cursor.Value()),
		Cursor:       a.cursor.Value(),
		CatchUpReady: a.cursorSet,
		Deduped:      a.dedup.Len(),
	}
	for b, st := range a.buckets {
		s.Owned = append(s.Owned, b)
		if st.loading {
			s.Loading = append(s.Loading, b)
		}
		s.Parked += len(st.parked)
	}
	slices.Sort(s.Owned)
	slices.Sort(s.Loading)
	return s
}
