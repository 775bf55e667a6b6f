package scheduler

import (
	"time"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Message is a command processed by the actor goroutine. The set of
// messages is closed: only types of this package implement it.
type Message interface {
	apply(a *Actor)
}

// RegisterJob enters a run into the trigger queue. Info carries the full
// run when it is new to the actor; without Info the run must already be
// resident and only its queue entry is updated.
type RegisterJob struct {
	RunID       id.RunID
	JobID       int64
	TriggerTime time.Time
	Priority    int
	Info        *job.Run
}

// TimerFired dispatches every due run and detects timeouts.
type TimerFired struct {
	Now time.Time
}

// JobCompleted reports the outcome of a whole run. A report for a run of
// a bucket that is still loading is held until the load finishes.
type JobCompleted struct {
	RunID         id.RunID
	WorkflowRunID id.RunID
	Bucket        int
	Status        job.Status
	Message       string
}

// BucketAcquired tells the actor it now owns Bucket.
type BucketAcquired struct {
	Bucket int
}

// BucketLost tells the actor it no longer owns Bucket.
type BucketLost struct {
	Bucket int
}

// JobsLoaded delivers the catalog load of a bucket. Results of an older
// Epoch than the bucket's current acquisition are discarded.
type JobsLoaded struct {
	Bucket int
	Epoch  uint64
	Runs   []*job.Run
}

// JobsLoadFailed reports a failed bucket load; the load is retried with
// backoff.
type JobsLoadFailed struct {
	Bucket  int
	Epoch   uint64
	Attempt int
	Err     error
}

// NewJobsCreated enters the runs of a new workflow run and persists them.
type NewJobsCreated struct {
	WorkflowRun *workflow.Run
	Runs        []*job.Run
}

// CancelJob cancels one active run.
type CancelJob struct {
	RunID  id.RunID
	Reason string
}

// CancelWorkflow cancels every active run of a workflow run. Like
// JobCompleted it waits for a loading Bucket.
type CancelWorkflow struct {
	WorkflowRunID id.RunID
	Bucket        int
	Reason        string
}

// RefreshJobInfo drops the cached definition of JobID and re-applies the
// current one to resident runs. RefreshDelete cancels its waiting runs.
type RefreshJobInfo struct {
	JobID int64
	Op    broadcast.RefreshOp
}

// SplitCompleted reports the outcome of one range of a sharded run.
type SplitCompleted struct {
	RunID   id.RunID
	Bucket  int
	Split   crdt.Range
	Status  job.Status
	Message string
	Worker  string
}

// RetrySplit re-dispatches one range of a RUNNING sharded run.
type RetrySplit struct {
	RunID id.RunID
	Split crdt.Range
}

// CatchUp loads runs persisted since the catch-up cursor.
type CatchUp struct{}

// BroadcastReceived applies a broadcast event at most once per event id.
type BroadcastReceived struct {
	Event *broadcast.Event
}

// ──────────────────────────────────────────────────
// Internal results
// ──────────────────────────────────────────────────

type dispatchResult struct {
	runID   id.RunID
	attempt int
	split   *crdt.Range
	err     error
}

type runsPersisted struct {
	maxSeq int64
}

type cursorLoaded struct {
	seq int64
}

type catchUpLoaded struct {
	runs   []*job.Run
	maxSeq int64
	full   bool
	err    error
}

type definitionLoaded struct {
	jobID int64
	def   *job.Definition
	err   error
}

type loadRetry struct {
	bucket  int
	epoch   uint64
	attempt int
}

// broadcastFailed reports that the catalog reads behind a TRIGGER or
// RERUN event failed.
type broadcastFailed struct {
	event   *broadcast.Event
	attempt int
	err     error
}

type broadcastRetry struct {
	event   *broadcast.Event
	attempt int
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Stats is a point-in-time view of the actor.
type Stats struct {
	Owned        []int
	Loading      []int
	Runs         int
	Queued       int
	WorkflowRuns int
	MaxRunSeq    int64
	Cursor       int64
	CatchUpReady bool
	Deduped      int
	Parked       int
}

type inspect struct {
	runID id.RunID
	reply chan *job.Run
}

type snapshot struct {
	reply chan Stats
}

func (m RegisterJob) apply(a *Actor)       { a.registerJob(m) }
func (m TimerFired) apply(a *Actor)        { a.timerFired(m.Now) }
func (m JobCompleted) apply(a *Actor)      { a.jobCompleted(m) }
func (m BucketAcquired) apply(a *Actor)    { a.bucketAcquired(m.Bucket) }
func (m BucketLost) apply(a *Actor)        { a.bucketLost(m.Bucket) }
func (m JobsLoaded) apply(a *Actor)        { a.jobsLoaded(m) }
func (m JobsLoadFailed) apply(a *Actor)    { a.jobsLoadFailed(m) }
func (m NewJobsCreated) apply(a *Actor)    { a.newJobsCreated(m) }
func (m CancelJob) apply(a *Actor)         { a.cancelJob(m) }
func (m CancelWorkflow) apply(a *Actor)    { a.cancelWorkflow(m) }
func (m RefreshJobInfo) apply(a *Actor)    { a.refreshJobInfo(m) }
func (m SplitCompleted) apply(a *Actor)    { a.splitCompleted(m) }
func (m RetrySplit) apply(a *Actor)        { a.retrySplitNow(m) }
func (m CatchUp) apply(a *Actor)           { a.catchUp() }
func (m BroadcastReceived) apply(a *Actor) { a.broadcastReceived(m.Event) }

func (m dispatchResult) apply(a *Actor)   { a.dispatchDone(m) }
func (m runsPersisted) apply(a *Actor)    { a.seen.Observe(m.maxSeq) }
func (m cursorLoaded) apply(a *Actor)     { a.cursorLoaded(m.seq) }
func (m catchUpLoaded) apply(a *Actor)    { a.catchUpLoaded(m) }
func (m definitionLoaded) apply(a *Actor) { a.definitionLoaded(m) }
func (m loadRetry) apply(a *Actor)        { a.loadRetry(m) }
func (m broadcastFailed) apply(a *Actor)  { a.broadcastFailed(m) }
func (m broadcastRetry) apply(a *Actor)   { a.broadcastRetry(m) }
func (m inspect) apply(a *Actor)          { m.reply <- a.runs[m.runID].Clone() }
func (m snapshot) apply(a *Actor)         { m.reply <- a.stats() }
