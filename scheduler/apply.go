package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/job"
)

// maxBroadcastAttempts bounds the catalog reads behind one TRIGGER or
// RERUN event.
const maxBroadcastAttempts = 8

func (a *Actor) broadcastReceived(e *broadcast.Event) {
	if e == nil || e.Payload == nil {
		return
	}
	if a.dedup.Seen(e.ID, a.now()) {
		a.logger.Debug("duplicate broadcast ignored", slog.String("event", e.String()))
		return
	}
	e.Accept(applier{a: a})
	a.ext.EmitBroadcastApplied(a.hookCtx(), e)
}

// broadcastFailed forgets the event so a redelivery is applied again, and
// retries transient failures with backoff while the bucket is owned.
func (a *Actor) broadcastFailed(m broadcastFailed) {
	a.dedup.Forget(m.event.ID)
	if !transient(m.err) || m.attempt >= maxBroadcastAttempts {
		a.logger.Error("broadcast dropped",
			slog.String("event", m.event.String()),
			slog.Int("attempt", m.attempt),
			slog.String("error", m.err.Error()),
		)
		return
	}
	delay := a.loadBO.Delay(m.attempt)
	a.logger.Warn("broadcast failed, retrying",
		slog.String("event", m.event.String()),
		slog.Int("attempt", m.attempt),
		slog.Duration("retry_in", delay),
		slog.String("error", m.err.Error()),
	)
	a.after(delay, broadcastRetry{event: m.event, attempt: m.attempt})
}

func (a *Actor) broadcastRetry(m broadcastRetry) {
	// A redelivery since the failure has already been applied.
	if a.dedup.Seen(m.event.ID, a.now()) {
		return
	}
	m.event.Accept(applier{a: a, attempt: m.attempt})
}

// transient reports whether a failed catalog read may succeed later.
func transient(err error) bool {
	return !errors.Is(err, cadence.ErrWorkflowNotFound) &&
		!errors.Is(err, cadence.ErrJobNotFound) &&
		!errors.Is(err, cadence.ErrCyclicGraph) &&
		!errors.Is(err, cadence.ErrUnknownJob)
}

// applier applies broadcast payloads to the actor's state. attempt counts
// earlier failed applications of the same event.
type applier struct {
	a       *Actor
	attempt int
}

func (v applier) VisitTrigger(e *broadcast.Event, p *broadcast.Trigger) {
	a := v.a
	if !a.owns(bucket.Of(p.WorkflowID, a.bucketCount)) {
		return
	}
	eventID, at, attempt := e.ID, e.Timestamp, v.attempt+1
	a.io(func(ctx context.Context) Message {
		defs, err := a.registry.GetMany(ctx, p.JobIDs)
		if err != nil {
			return broadcastFailed{event: e, attempt: attempt, err: err}
		}
		wr, runs, err := BuildTrigger(eventID, p, at, defs, a.bucketCount)
		if err != nil {
			a.logger.Error("trigger: build runs",
				slog.String("event_id", eventID),
				slog.Int64("workflow_id", p.WorkflowID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return NewJobsCreated{WorkflowRun: wr, Runs: runs}
	})
}

func (v applier) VisitRerun(e *broadcast.Event, p *broadcast.Rerun) {
	a := v.a
	if !a.owns(bucket.Of(p.WorkflowID, a.bucketCount)) {
		return
	}
	eventID, at, attempt := e.ID, e.Timestamp, v.attempt+1
	jobIDs := slices.Sorted(maps.Values(p.JobRuns))
	a.io(func(ctx context.Context) Message {
		wf, err := a.catalog.GetWorkflowDefinition(ctx, p.WorkflowID)
		if err != nil {
			return broadcastFailed{event: e, attempt: attempt, err: err}
		}
		defs, err := a.registry.GetMany(ctx, jobIDs)
		if err != nil {
			return broadcastFailed{event: e, attempt: attempt, err: err}
		}
		wr, runs, err := BuildRerun(eventID, p, at, wf, defs, a.bucketCount)
		if err != nil {
			a.logger.Error("rerun: build runs",
				slog.String("event_id", eventID),
				slog.String("workflow_run_id", p.WorkflowRunID.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return NewJobsCreated{WorkflowRun: wr, Runs: runs}
	})
}

func (v applier) VisitKill(_ *broadcast.Event, p *broadcast.Kill) {
	b := bucket.Of(p.WorkflowID, v.a.bucketCount)
	if v.a.owns(b) {
		v.a.cancelWorkflow(CancelWorkflow{WorkflowRunID: p.WorkflowRunID, Bucket: b, Reason: "killed"})
	}
}

func (v applier) VisitOnline(_ *broadcast.Event, p *broadcast.Online) {
	for _, l := range v.a.workflows {
		l.WorkflowOnline(p.WorkflowID)
	}
}

func (v applier) VisitOffline(_ *broadcast.Event, p *broadcast.Offline) {
	for _, l := range v.a.workflows {
		l.WorkflowOffline(p.WorkflowID)
	}
}

func (v applier) VisitRefresh(_ *broadcast.Event, p *broadcast.Refresh) {
	v.a.refreshJobInfo(RefreshJobInfo{JobID: p.JobID, Op: p.Kind})
}

func (v applier) VisitReport(_ *broadcast.Event, p *broadcast.Report) {
	a := v.a
	if !a.owns(p.Bucket) {
		return
	}
	if p.Split != nil {
		a.splitCompleted(SplitCompleted{
			RunID:   p.RunID,
			Bucket:  p.Bucket,
			Split:   *p.Split,
			Status:  p.Status,
			Message: p.Message,
			Worker:  p.Worker,
		})
		return
	}
	a.jobCompleted(JobCompleted{
		RunID:         p.RunID,
		WorkflowRunID: p.WorkflowRunID,
		Bucket:        p.Bucket,
		Status:        p.Status,
		Message:       p.Message,
	})
}

// ──────────────────────────────────────────────────
// Definition refresh
// ──────────────────────────────────────────────────

func (a *Actor) refreshJobInfo(m RefreshJobInfo) {
	a.registry.Invalidate(m.JobID)
	if m.Op == broadcast.RefreshDelete {
		var waiting []*job.Run
		for _, r := range a.runs {
			if r.JobID == m.JobID && r.Status == job.StatusWaiting {
				waiting = append(waiting, r)
			}
		}
		for _, r := range waiting {
			a.cancel(r, "job deleted")
		}
		return
	}
	if !a.hasActive(m.JobID) {
		return
	}
	jobID := m.JobID
	a.io(func(ctx context.Context) Message {
		def, err := a.registry.Get(ctx, jobID)
		return definitionLoaded{jobID: jobID, def: def, err: err}
	})
}

func (a *Actor) hasActive(jobID int64) bool {
	for _, r := range a.runs {
		if r.JobID == jobID && !r.Status.Terminal() {
			return true
		}
	}
	return false
}

// definitionLoaded applies a refreshed definition to the active runs of
// the job. Waiting runs are re-queued under their new priority.
func (a *Actor) definitionLoaded(m definitionLoaded) {
	if m.err != nil {
		a.logger.Warn("job definition refresh failed",
			slog.Int64("job_id", m.jobID),
			slog.String("error", m.err.Error()),
		)
		return
	}
	updated := 0
	for _, r := range a.runs {
		if r.JobID != m.jobID || r.Status.Terminal() {
			continue
		}
		r.ApplyDefinition(m.def)
		if r.Status == job.StatusWaiting {
			a.push(r, r.TriggerTime)
		}
		updated++
	}
	a.logger.Debug("job definition refreshed",
		slog.Int64("job_id", m.jobID),
		slog.Int("runs", updated),
	)
}
