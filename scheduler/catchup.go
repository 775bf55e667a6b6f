package scheduler

import (
	"context"
	"log/slog"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

func (a *Actor) newJobsCreated(m NewJobsCreated) {
	wr := m.WorkflowRun
	if !a.owns(wr.Bucket) {
		a.logger.Debug("new runs for unowned bucket ignored",
			slog.String("workflow_run_id", wr.ID.String()),
			slog.Int("bucket", wr.Bucket),
		)
		return
	}
	if a.finished.Contains(wr.ID.String(), a.now()) {
		return
	}
	a.track(wr)
	for _, r := range m.Runs {
		a.insert(r)
	}

	wrCopy := *wr
	runs := make([]*job.Run, len(m.Runs))
	for i, r := range m.Runs {
		runs[i] = r.Clone()
	}
	a.writes.submit("persist_new_runs", wr.ID.String(), func(ctx context.Context) error {
		if err := a.catalog.PersistNewRuns(ctx, &wrCopy, runs); err != nil {
			return err
		}
		var maxSeq int64
		for _, r := range runs {
			maxSeq = max(maxSeq, r.Seq)
		}
		a.post(runsPersisted{maxSeq: maxSeq})
		return nil
	})

	a.logger.Debug("workflow run entered",
		slog.String("workflow_run_id", wr.ID.String()),
		slog.Int64("workflow_id", wr.WorkflowID),
		slog.Int("jobs", len(m.Runs)),
	)
	a.finalize(wr.ID)
	a.fire(a.now())
}

func (a *Actor) loadCursor() {
	a.cursorReq = true
	a.io(func(ctx context.Context) Message {
		seq, err := a.catalog.MaxRunSeq(ctx)
		if err != nil {
			a.logger.Warn("catch-up cursor load failed", slog.String("error", err.Error()))
			return cursorLoaded{seq: -1}
		}
		return cursorLoaded{seq: seq}
	})
}

func (a *Actor) cursorLoaded(seq int64) {
	a.cursorReq = false
	if seq < 0 {
		return
	}
	a.cursor.Observe(seq)
	a.seen.Observe(seq)
	a.cursorSet = true
}

// catchUp loads runs persisted after the cursor whose workflow runs are
// still active in an owned bucket. It covers broadcasts this node missed.
func (a *Actor) catchUp() {
	if !a.cursorSet {
		if !a.cursorReq {
			a.loadCursor()
		}
		return
	}
	if a.catching || a.catchUpBatch <= 0 {
		return
	}
	a.catching = true

	after, limit := a.cursor.Value(), a.catchUpBatch
	owned := make(map[int]bool, len(a.buckets))
	for b := range a.buckets {
		owned[b] = true
	}
	a.io(func(ctx context.Context) Message {
		batch, maxSeq, err := a.catalog.LoadJobRunsSince(ctx, after, limit)
		if err != nil {
			return catchUpLoaded{err: err}
		}
		var out []*job.Run
		visited := make(map[id.RunID]bool)
		for _, r := range batch {
			if !owned[r.Bucket] || visited[r.WorkflowRunID] {
				continue
			}
			visited[r.WorkflowRunID] = true
			wr, err := a.catalog.GetWorkflowRun(ctx, r.WorkflowRunID)
			if err != nil {
				return catchUpLoaded{err: err}
			}
			if wr.Status.Terminal() {
				continue
			}
			all, err := a.catalog.ListJobRuns(ctx, r.WorkflowRunID)
			if err != nil {
				return catchUpLoaded{err: err}
			}
			out = append(out, all...)
		}
		return catchUpLoaded{runs: out, maxSeq: maxSeq, full: len(batch) >= limit}
	})
}

func (a *Actor) catchUpLoaded(m catchUpLoaded) {
	a.catching = false
	if m.err != nil {
		a.logger.Warn("catch-up failed", slog.String("error", m.err.Error()))
		return
	}
	touched := make(map[id.RunID]bool)
	added := 0
	for _, r := range m.runs {
		if !a.owns(r.Bucket) {
			continue
		}
		if a.insert(r) {
			added++
			touched[r.WorkflowRunID] = true
		}
	}
	a.cursor.Observe(m.maxSeq)
	a.seen.Observe(m.maxSeq)
	for wfRunID := range touched {
		a.finalize(wfRunID)
	}
	if added > 0 {
		a.logger.Info("catch-up entered missed runs",
			slog.Int("runs", added),
			slog.Int64("cursor", a.cursor.Value()),
		)
		a.fire(a.now())
	}
	if m.full {
		a.catchUp()
	}
}
