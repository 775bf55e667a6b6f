package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/workflow"
)

// ──────────────────────────────────────────────────
// Residency
// ──────────────────────────────────────────────────

func (a *Actor) lookup(runID id.RunID) (job.Status, bool) {
	r, ok := a.runs[runID]
	if !ok {
		return "", false
	}
	return r.Status, true
}

func (a *Actor) owns(b int) bool {
	_, ok := a.buckets[b]
	return ok
}

func (a *Actor) ready(b int) bool {
	st, ok := a.buckets[b]
	return ok && !st.loading
}

// track registers the workflow run wr unless it is already resident.
func (a *Actor) track(wr *workflow.Run) *workflowState {
	ws, ok := a.wfRuns[wr.ID]
	if !ok {
		ws = &workflowState{run: wr}
		a.wfRuns[wr.ID] = ws
	}
	return ws
}

// insert makes r resident. A run already resident is kept as is, and runs
// of workflow runs finalized recently are ignored. It reports whether r
// was added.
func (a *Actor) insert(r *job.Run) bool {
	if _, ok := a.runs[r.ID]; ok {
		return false
	}
	if a.finished.Contains(r.WorkflowRunID.String(), a.now()) {
		return false
	}
	if r.Sharded() && r.Shards == nil {
		r.Shards = crdt.NewShardProgress(r.ShardTotal)
	}

	ws := a.track(&workflow.Run{
		ID:         r.WorkflowRunID,
		WorkflowID: r.WorkflowID,
		Status:     workflow.RunRunning,
		Bucket:     r.Bucket,
		CreatedAt:  r.CreatedAt,
	})
	ws.jobs = append(ws.jobs, r.ID)
	a.runs[r.ID] = r
	a.deps.Track(r)
	a.seen.Observe(r.Seq)
	if r.Status == job.StatusWaiting {
		a.push(r, r.TriggerTime)
	}
	return true
}

// evict drops r from memory without touching the catalog.
func (a *Actor) evict(r *job.Run) {
	a.release(r)
	a.queue.Remove(r.ID)
	a.deps.Forget(r)
	delete(a.runs, r.ID)
}

func (a *Actor) push(r *job.Run, at time.Time) {
	a.queue.Push(queue.Entry{
		RunID:    r.ID,
		Bucket:   r.Bucket,
		At:       at,
		Priority: r.Priority,
	})
}

// release returns the throttle slot held by r, if any.
func (a *Actor) release(r *job.Run) {
	if a.held[r.ID] {
		delete(a.held, r.ID)
		a.throttle.Release(r.Namespace)
	}
}

// runningOf returns a RUNNING run of jobID other than except.
func (a *Actor) runningOf(jobID int64, except id.RunID) *job.Run {
	for _, r := range a.runs {
		if r.JobID == jobID && r.ID != except && r.Status == job.StatusRunning {
			return r
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Catalog and executor side effects
// ──────────────────────────────────────────────────

func (a *Actor) save(r *job.Run) {
	c := r.Clone()
	a.writes.submit("save_run", c.ID.String(), func(ctx context.Context) error {
		return a.catalog.SaveRun(ctx, c)
	})
}

func (a *Actor) saveShards(r *job.Run) {
	runID := r.ID
	done := crdt.NewRangeSet(r.Shards.Done.Ranges()...)
	a.writes.submit("merge_shard_progress", runID.String(), func(ctx context.Context) error {
		return a.catalog.MergeShardProgress(ctx, runID, done)
	})
}

func (a *Actor) kill(r *job.Run) {
	runID := r.ID
	a.io(func(ctx context.Context) Message {
		if err := a.exec.Kill(ctx, runID); err != nil {
			a.logger.Warn("kill failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// post delivers msg from a goroutine other than the actor's.
func (a *Actor) post(msg Message) {
	select {
	case a.inbox <- msg:
	case <-a.stopped:
	}
}

// hookCtx is the context handed to lifecycle hooks.
func (a *Actor) hookCtx() context.Context {
	if a.ioCtx == nil {
		return context.Background()
	}
	return a.ioCtx
}
