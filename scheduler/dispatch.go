package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/job"
)

func (a *Actor) registerJob(m RegisterJob) {
	r, ok := a.runs[m.RunID]
	if !ok && m.Info != nil {
		if !a.owns(m.Info.Bucket) {
			a.logger.Debug("register for unowned bucket ignored",
				slog.String("run_id", m.RunID.String()),
				slog.Int("bucket", m.Info.Bucket),
			)
			return
		}
		r = m.Info
		a.insert(r)
		ok = true
	}
	if !ok {
		a.logger.Debug("register for unknown run ignored", slog.String("run_id", m.RunID.String()))
		return
	}
	if r.Status != job.StatusWaiting {
		return
	}
	if !m.TriggerTime.IsZero() {
		r.TriggerTime = m.TriggerTime
	}
	if m.Priority != 0 {
		r.Priority = m.Priority
	}
	a.push(r, r.TriggerTime)
	a.fire(a.now())
}

func (a *Actor) timerFired(now time.Time) {
	a.checkTimeouts(now)
	a.dedup.Sweep(now)
	a.finished.Sweep(now)
	a.fire(now)
}

// fire dispatches every run whose trigger time has passed and whose
// parents have all succeeded.
func (a *Actor) fire(now time.Time) {
	for _, e := range a.queue.PopDue(now) {
		r, ok := a.runs[e.RunID]
		if !ok {
			continue
		}
		if e.Split != nil {
			a.retrySplit(r, *e.Split)
			continue
		}
		if r.Status != job.StatusWaiting {
			continue
		}
		if !a.ready(r.Bucket) {
			a.push(r, now.Add(a.tick))
			continue
		}
		if a.deps.Blocked(r, a.lookup) {
			a.cancel(r, "upstream failed")
			continue
		}
		if !a.deps.IsEligible(r, a.lookup) {
			// Parents still active re-push r when they succeed.
			if a.parentsMissing(r) {
				a.push(r, now.Add(a.tick))
			}
			continue
		}
		if !a.resolveBlock(r) {
			continue
		}
		if !a.throttle.Acquire(r.Namespace) {
			a.push(r, now.Add(a.tick))
			continue
		}
		a.held[r.ID] = true
		a.dispatch(r, now)
	}
}

func (a *Actor) parentsMissing(r *job.Run) bool {
	for _, p := range r.Parents {
		if _, ok := a.runs[p]; !ok {
			return true
		}
	}
	return false
}

// resolveBlock applies r's block strategy against an earlier RUNNING run
// of the same job. It reports whether r may be dispatched.
func (a *Actor) resolveBlock(r *job.Run) bool {
	switch r.Block {
	case job.BlockDiscardLater:
		if prev := a.runningOf(r.JobID, r.ID); prev != nil {
			a.cancel(r, fmt.Sprintf("discarded: run %s of job %d still running", prev.ID, r.JobID))
			return false
		}
	case job.BlockOverrideEarlier:
		if prev := a.runningOf(r.JobID, r.ID); prev != nil {
			a.cancel(prev, fmt.Sprintf("overridden by run %s", r.ID))
		}
	}
	return true
}

func (a *Actor) dispatch(r *job.Run, now time.Time) {
	r.Status = job.StatusRunning
	r.DispatchedAt = now
	r.UpdatedAt = now
	r.Message = ""
	a.save(r)

	if !r.Sharded() {
		a.send(r, r.RetryCount, nil)
		return
	}
	pending := r.Shards.Pending(a.shardCount(r))
	if len(pending) == 0 {
		a.succeed(r, "")
		return
	}
	for _, s := range pending {
		a.send(r, r.Shards.Attempts[s], &s)
	}
}

// shardCount is the number of ranges r is split into: its own setting,
// else one per executor endpoint.
func (a *Actor) shardCount(r *job.Run) int {
	if r.ShardCount > 0 {
		return r.ShardCount
	}
	if s, ok := a.exec.(executor.Sized); ok && s.Size() > 0 {
		return s.Size()
	}
	return 1
}

func (a *Actor) send(r *job.Run, attempt int, split *crdt.Range) {
	req := &executor.Request{
		Run:     r.Clone(),
		Attempt: attempt,
		Split:   split,
		Node:    a.nodeID,
	}
	a.io(func(ctx context.Context) Message {
		if a.dispatchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.dispatchTimeout)
			defer cancel()
		}
		err := a.exec.Dispatch(ctx, req)
		return dispatchResult{runID: req.Run.ID, attempt: attempt, split: split, err: err}
	})
}

func (a *Actor) dispatchDone(m dispatchResult) {
	r, ok := a.runs[m.runID]
	if !ok || r.Status != job.StatusRunning {
		return
	}
	if m.split != nil {
		if r.Shards == nil || r.Shards.Attempts[*m.split] != m.attempt {
			return
		}
	} else if r.RetryCount != m.attempt {
		return
	}

	if m.err == nil {
		a.ext.EmitJobDispatched(a.hookCtx(), r, m.split)
		return
	}

	a.logger.Warn("dispatch failed",
		slog.String("run_id", r.ID.String()),
		slog.Int64("job_id", r.JobID),
		slog.Int("attempt", m.attempt),
		slog.String("error", m.err.Error()),
	)
	if m.split != nil {
		a.splitFailed(r, *m.split, "dispatch: "+m.err.Error())
		return
	}
	a.fail(r, "dispatch: "+m.err.Error())
}

// checkTimeouts moves every RUNNING run past its timeout to TIMEOUT, then
// applies its retry policy.
func (a *Actor) checkTimeouts(now time.Time) {
	var expired []*job.Run
	for _, r := range a.runs {
		if r.TimedOut(now) {
			expired = append(expired, r)
		}
	}
	for _, r := range expired {
		if r.Status != job.StatusRunning {
			continue
		}
		a.logger.Warn("job run timed out",
			slog.String("run_id", r.ID.String()),
			slog.Int64("job_id", r.JobID),
			slog.Duration("timeout", r.Timeout),
		)
		a.kill(r)
		msg := fmt.Sprintf("%s: exceeded %s", job.StatusTimeout, r.Timeout)
		r.Status = job.StatusTimeout
		r.Message = msg
		r.UpdatedAt = now
		a.save(r)
		a.ext.EmitJobTimedOut(a.hookCtx(), r)
		a.fail(r, msg)
	}
}

func (a *Actor) retrySplitNow(m RetrySplit) {
	if r, ok := a.runs[m.RunID]; ok {
		a.retrySplit(r, m.Split)
	}
}

func (a *Actor) retrySplit(r *job.Run, s crdt.Range) {
	if r.Status != job.StatusRunning || r.Shards == nil || r.Shards.Done.Covers(s) {
		return
	}
	a.send(r, r.Shards.Attempts[s], &s)
}
