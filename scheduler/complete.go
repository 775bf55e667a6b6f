package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/workflow"
)

func (a *Actor) jobCompleted(m JobCompleted) {
	r, ok := a.runs[m.RunID]
	if !ok {
		if a.park(m.Bucket, m) {
			a.logger.Debug("completion held until bucket loads",
				slog.String("run_id", m.RunID.String()),
				slog.Int("bucket", m.Bucket),
			)
			return
		}
		a.logger.Debug("completion for non-resident run ignored", slog.String("run_id", m.RunID.String()))
		return
	}
	if r.Status != job.StatusRunning {
		a.logger.Debug("duplicate completion ignored",
			slog.String("run_id", r.ID.String()),
			slog.String("status", string(r.Status)),
		)
		return
	}

	switch m.Status {
	case job.StatusSuccess:
		a.succeed(r, m.Message)
	case job.StatusFail, job.StatusTimeout:
		msg := m.Message
		if msg == "" {
			msg = string(m.Status)
		}
		a.fail(r, msg)
	case job.StatusCancelled:
		a.cancel(r, m.Message)
	default:
		a.logger.Warn("completion with invalid status ignored",
			slog.String("run_id", r.ID.String()),
			slog.String("status", string(m.Status)),
		)
		return
	}
	a.fire(a.now())
}

func (a *Actor) splitCompleted(m SplitCompleted) {
	r, ok := a.runs[m.RunID]
	if !ok {
		a.park(m.Bucket, m)
		return
	}
	if r.Status != job.StatusRunning || r.Shards == nil {
		return
	}
	if m.Status != job.StatusSuccess {
		a.splitFailed(r, m.Split, m.Message)
		return
	}

	finished := r.Shards.Complete(m.Split)
	a.saveShards(r)
	a.logger.Debug("split completed",
		slog.String("run_id", r.ID.String()),
		slog.String("split", m.Split.String()),
		slog.String("worker", m.Worker),
	)
	if finished {
		a.succeed(r, m.Message)
		a.fire(a.now())
	}
}

// splitFailed retries one range of a sharded run, failing the whole run
// once the range has used up its retries.
func (a *Actor) splitFailed(r *job.Run, s crdt.Range, msg string) {
	if r.Shards.Done.Covers(s) {
		return
	}
	attempt := r.Shards.Attempt(s)
	if attempt <= r.MaxRetries {
		at := a.now().Add(r.RetryInterval)
		a.queue.Push(queue.Entry{
			RunID:    r.ID,
			Bucket:   r.Bucket,
			At:       at,
			Priority: r.Priority,
			Split:    &s,
		})
		a.ext.EmitJobRetrying(a.hookCtx(), r, attempt, at)
		return
	}
	a.kill(r)
	a.terminalFail(r, fmt.Sprintf("split %s: %s", s, msg))
}

// fail ends the current attempt of r. The run is retried while retries
// are left, otherwise it fails for good and its dependents are cancelled.
func (a *Actor) fail(r *job.Run, msg string) {
	if !r.HasRetriesLeft() {
		a.terminalFail(r, msg)
		return
	}
	a.release(r)
	now := a.now()
	r.RetryCount++
	r.Status = job.StatusWaiting
	r.Message = msg
	r.TriggerTime = now.Add(r.RetryInterval)
	r.DispatchedAt = time.Time{}
	r.UpdatedAt = now
	a.push(r, r.TriggerTime)
	a.save(r)
	a.ext.EmitJobRetrying(a.hookCtx(), r, r.RetryCount, r.TriggerTime)
	a.logger.Info("job run retrying",
		slog.String("run_id", r.ID.String()),
		slog.Int64("job_id", r.JobID),
		slog.Int("retry", r.RetryCount),
		slog.Int("max_retries", r.MaxRetries),
	)
}

func (a *Actor) terminalFail(r *job.Run, msg string) {
	a.release(r)
	a.queue.Remove(r.ID)
	r.Status = job.StatusFail
	r.Message = msg
	r.UpdatedAt = a.now()
	a.save(r)
	a.ext.EmitJobFailed(a.hookCtx(), r, msg)
	a.logger.Warn("job run failed",
		slog.String("run_id", r.ID.String()),
		slog.Int64("job_id", r.JobID),
		slog.Int("retries", r.RetryCount),
		slog.String("message", msg),
	)
	a.cascade(r.ID, "upstream failed")
	a.finalize(r.WorkflowRunID)
}

func (a *Actor) succeed(r *job.Run, msg string) {
	a.release(r)
	a.queue.Remove(r.ID)
	now := a.now()
	r.Status = job.StatusSuccess
	r.Message = msg
	r.UpdatedAt = now
	a.save(r)

	elapsed := now.Sub(r.DispatchedAt)
	if r.DispatchedAt.IsZero() {
		elapsed = 0
	}
	a.ext.EmitJobCompleted(a.hookCtx(), r, elapsed)

	for _, c := range a.deps.Dependents(r.ID) {
		if cr, ok := a.runs[c]; ok && cr.Status == job.StatusWaiting {
			a.push(cr, cr.TriggerTime)
		}
	}
	a.finalize(r.WorkflowRunID)
}

// markCancelled moves r to CANCELLED, killing it when it is running.
func (a *Actor) markCancelled(r *job.Run, reason string) {
	if r.Status.Terminal() {
		return
	}
	if r.Status == job.StatusRunning {
		a.kill(r)
	}
	a.release(r)
	a.queue.Remove(r.ID)
	r.Status = job.StatusCancelled
	r.Message = reason
	r.UpdatedAt = a.now()
	a.save(r)
	a.ext.EmitJobCancelled(a.hookCtx(), r, reason)
}

// cascade cancels every active run depending on runID.
func (a *Actor) cascade(runID id.RunID, reason string) {
	for _, d := range a.deps.Descendants(runID) {
		if dr, ok := a.runs[d]; ok {
			a.markCancelled(dr, reason)
		}
	}
}

func (a *Actor) cancel(r *job.Run, reason string) {
	a.markCancelled(r, reason)
	a.cascade(r.ID, "upstream cancelled")
	a.finalize(r.WorkflowRunID)
}

func (a *Actor) cancelJob(m CancelJob) {
	r, ok := a.runs[m.RunID]
	if !ok || r.Status.Terminal() {
		return
	}
	a.cancel(r, m.Reason)
	a.fire(a.now())
}

func (a *Actor) cancelWorkflow(m CancelWorkflow) {
	ws, ok := a.wfRuns[m.WorkflowRunID]
	if !ok {
		a.park(m.Bucket, m)
		return
	}
	for _, rid := range ws.jobs {
		if r, ok := a.runs[rid]; ok {
			a.markCancelled(r, m.Reason)
		}
	}
	a.logger.Info("workflow run cancelled",
		slog.String("workflow_run_id", m.WorkflowRunID.String()),
		slog.String("reason", m.Reason),
	)
	a.finalize(m.WorkflowRunID)
}

// finalize completes a workflow run once none of its job runs is active,
// then evicts it from memory.
func (a *Actor) finalize(wfRunID id.RunID) {
	ws, ok := a.wfRuns[wfRunID]
	if !ok {
		return
	}
	statuses := make([]job.Status, 0, len(ws.jobs))
	for _, rid := range ws.jobs {
		if r, ok := a.runs[rid]; ok {
			statuses = append(statuses, r.Status)
		}
	}
	status, done := workflow.Aggregate(statuses)
	if !done {
		return
	}

	now := a.now()
	wr := *ws.run
	wr.Status = status
	wr.FinishedAt = &now
	a.writes.submit("update_workflow_run_status", wfRunID.String(), func(ctx context.Context) error {
		return a.catalog.UpdateWorkflowRunStatus(ctx, wfRunID, status, now)
	})
	a.ext.EmitWorkflowRunCompleted(a.hookCtx(), &wr, now.Sub(wr.CreatedAt))
	a.logger.Info("workflow run finished",
		slog.String("workflow_run_id", wfRunID.String()),
		slog.Int64("workflow_id", wr.WorkflowID),
		slog.String("status", string(status)),
	)

	for _, rid := range ws.jobs {
		if r, ok := a.runs[rid]; ok {
			a.evict(r)
		}
	}
	delete(a.wfRuns, wfRunID)
	a.finished.Seen(wfRunID.String(), now)
}
