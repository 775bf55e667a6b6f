package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/scheduler"
	"github.com/xraph/cadence/workflow"
)

// ──────────────────────────────────────────────────
// Workflow lifecycle
// ──────────────────────────────────────────────────

// TriggerWorkflow starts a run of an ONLINE workflow and returns the id
// of the new workflow run. The runs are persisted before the TRIGGER
// broadcast goes out, so a bucket that is between owners picks them up
// through catch-up.
func (eng *Engine) TriggerWorkflow(ctx context.Context, workflowID int64) (id.RunID, error) {
	wf, err := eng.catalog.GetWorkflowDefinition(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	if wf.Status != workflow.StatusOnline {
		return 0, fmt.Errorf("%w: workflow %d is %s", cadence.ErrWorkflowOffline, workflowID, wf.Status)
	}
	eventID := id.NewEventID().String()
	wr, err := eng.startRun(ctx, eventID, wf, eng.now().UTC())
	if err != nil {
		return 0, err
	}
	return wr.ID, nil
}

// fire is the trigger scheduler's callback for a due cron or fixed-rate
// slot.
func (eng *Engine) fire(ctx context.Context, eventID string, wf *workflow.Definition, at time.Time) error {
	_, err := eng.startRun(ctx, eventID, wf, at)
	return err
}

func (eng *Engine) startRun(ctx context.Context, eventID string, wf *workflow.Definition, at time.Time) (*workflow.Run, error) {
	p := &broadcast.Trigger{
		WorkflowID:  wf.ID,
		Namespace:   wf.Namespace,
		JobIDs:      wf.JobIDs,
		Edges:       wf.Edges,
		TriggerTime: at,
	}
	defs, err := eng.registry.GetMany(ctx, wf.JobIDs)
	if err != nil {
		return nil, fmt.Errorf("load job definitions: %w", err)
	}
	wr, runs, err := scheduler.BuildTrigger(eventID, p, at, defs, eng.config.BucketCount)
	if err != nil {
		return nil, err
	}
	if err := eng.catalog.PersistNewRuns(ctx, wr, runs); err != nil {
		return nil, fmt.Errorf("persist runs: %w", err)
	}
	if _, err := eng.publisher.PublishWithID(ctx, eventID, p); err != nil {
		// The runs are durable; catch-up on the owner enters them.
		eng.logger.Warn("trigger broadcast failed",
			slog.String("event_id", eventID),
			slog.Int64("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
	}
	eng.logger.Info("workflow triggered",
		slog.String("event_id", eventID),
		slog.Int64("workflow_id", wf.ID),
		slog.String("workflow_run_id", wr.ID.String()),
		slog.Int("job_runs", len(runs)),
	)
	return wr, nil
}

// OnlineWorkflow publishes a workflow so its timed trigger starts firing.
func (eng *Engine) OnlineWorkflow(ctx context.Context, workflowID int64) error {
	if err := eng.transition(ctx, workflowID, workflow.StatusOnline); err != nil {
		return err
	}
	_, err := eng.publisher.Publish(ctx, &broadcast.Online{WorkflowID: workflowID})
	return err
}

// OfflineWorkflow stops a workflow's timed trigger. Runs already started
// continue.
func (eng *Engine) OfflineWorkflow(ctx context.Context, workflowID int64) error {
	if err := eng.transition(ctx, workflowID, workflow.StatusOffline); err != nil {
		return err
	}
	_, err := eng.publisher.Publish(ctx, &broadcast.Offline{WorkflowID: workflowID})
	return err
}

func (eng *Engine) transition(ctx context.Context, workflowID int64, next workflow.Status) error {
	wf, err := eng.catalog.GetWorkflowDefinition(ctx, workflowID)
	if err != nil {
		return err
	}
	if !wf.Status.CanTransition(next) {
		return fmt.Errorf("%w: workflow %d %s → %s", cadence.ErrInvalidTransition, workflowID, wf.Status, next)
	}
	return eng.catalog.SetWorkflowStatus(ctx, workflowID, next)
}

// ──────────────────────────────────────────────────
// Run control
// ──────────────────────────────────────────────────

// KillWorkflowRun cancels every active job run of a workflow run. The
// cancellation is written to the catalog before the KILL broadcast goes
// out, so an owner that reloads the bucket sees it.
func (eng *Engine) KillWorkflowRun(ctx context.Context, workflowRunID id.RunID) error {
	wr, err := eng.catalog.GetWorkflowRun(ctx, workflowRunID)
	if err != nil {
		return err
	}
	runs, err := eng.catalog.ListJobRuns(ctx, workflowRunID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Status.Terminal() {
			continue
		}
		if err := eng.catalog.UpdateRunStatus(ctx, r.ID, job.StatusCancelled, "killed"); err != nil {
			return fmt.Errorf("persist kill of %s: %w", r.ID, err)
		}
	}
	_, err = eng.publisher.Publish(ctx, &broadcast.Kill{
		WorkflowID:    wr.WorkflowID,
		WorkflowRunID: workflowRunID,
	})
	return err
}

// RerunWorkflowRun starts a new workflow run that repeats selected job
// runs of an earlier one. jobRuns maps each earlier job run id to its job
// id; when empty, every job run that did not succeed is repeated. It
// returns the id of the new workflow run. Like a trigger, the new runs are
// persisted before the RERUN broadcast.
func (eng *Engine) RerunWorkflowRun(ctx context.Context, workflowRunID id.RunID, jobRuns map[id.RunID]int64) (id.RunID, error) {
	prev, err := eng.catalog.GetWorkflowRun(ctx, workflowRunID)
	if err != nil {
		return 0, err
	}
	if len(jobRuns) == 0 {
		if jobRuns, err = eng.unsuccessful(ctx, workflowRunID); err != nil {
			return 0, err
		}
		if len(jobRuns) == 0 {
			return 0, fmt.Errorf("%w: workflow run %s has no job run to repeat", cadence.ErrInvalidTransition, workflowRunID)
		}
	}
	wf, err := eng.catalog.GetWorkflowDefinition(ctx, prev.WorkflowID)
	if err != nil {
		return 0, err
	}
	defs, err := eng.registry.GetMany(ctx, slices.Sorted(maps.Values(jobRuns)))
	if err != nil {
		return 0, fmt.Errorf("load job definitions: %w", err)
	}

	eventID := id.NewEventID().String()
	p := &broadcast.Rerun{
		WorkflowID:    prev.WorkflowID,
		WorkflowRunID: workflowRunID,
		JobRuns:       jobRuns,
	}
	wr, runs, err := scheduler.BuildRerun(eventID, p, eng.now().UTC(), wf, defs, eng.config.BucketCount)
	if err != nil {
		return 0, err
	}
	if err := eng.catalog.PersistNewRuns(ctx, wr, runs); err != nil {
		return 0, fmt.Errorf("persist runs: %w", err)
	}
	if _, err := eng.publisher.PublishWithID(ctx, eventID, p); err != nil {
		eng.logger.Warn("rerun broadcast failed",
			slog.String("event_id", eventID),
			slog.String("workflow_run_id", wr.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	eng.logger.Info("workflow run repeated",
		slog.String("event_id", eventID),
		slog.String("previous_run_id", workflowRunID.String()),
		slog.String("workflow_run_id", wr.ID.String()),
		slog.Int("job_runs", len(runs)),
	)
	return wr.ID, nil
}

func (eng *Engine) unsuccessful(ctx context.Context, workflowRunID id.RunID) (map[id.RunID]int64, error) {
	runs, err := eng.catalog.ListJobRuns(ctx, workflowRunID)
	if err != nil {
		return nil, err
	}
	out := make(map[id.RunID]int64)
	for _, r := range runs {
		if r.Status != job.StatusSuccess {
			out[r.ID] = r.JobID
		}
	}
	return out, nil
}

// RefreshJobInfo tells every node that a job definition changed or was
// deleted.
func (eng *Engine) RefreshJobInfo(ctx context.Context, jobID int64, op broadcast.RefreshOp) error {
	eng.registry.Invalidate(jobID)
	_, err := eng.publisher.Publish(ctx, &broadcast.Refresh{JobID: jobID, Kind: op})
	return err
}

// ──────────────────────────────────────────────────
// Completion reports
// ──────────────────────────────────────────────────

// Report is an executor's outcome for a dispatched request.
type Report struct {
	RunID         id.RunID    `json:"run_id"`
	WorkflowRunID id.RunID    `json:"workflow_run_id"`
	Bucket        int         `json:"bucket"`
	Status        job.Status  `json:"status"`
	Message       string      `json:"message,omitempty"`
	Split         *crdt.Range `json:"split,omitempty"`
	Worker        string      `json:"worker,omitempty"`
}

// ReportJobCompleted delivers the outcome of a whole run. The owning
// actor gets it directly when this node holds the bucket, otherwise it
// travels as a REPORT broadcast.
func (eng *Engine) ReportJobCompleted(ctx context.Context, runID, workflowRunID id.RunID, bucketID int, status job.Status, message string) error {
	return eng.Report(ctx, &Report{
		RunID:         runID,
		WorkflowRunID: workflowRunID,
		Bucket:        bucketID,
		Status:        status,
		Message:       message,
	})
}

// ReportSplitCompleted delivers the outcome of one range of a sharded
// run.
func (eng *Engine) ReportSplitCompleted(ctx context.Context, runID id.RunID, bucketID int, split crdt.Range, status job.Status, message, worker string) error {
	return eng.Report(ctx, &Report{
		RunID:   runID,
		Bucket:  bucketID,
		Status:  status,
		Message: message,
		Split:   &split,
		Worker:  worker,
	})
}

// Report routes r to the owner of its bucket.
func (eng *Engine) Report(ctx context.Context, r *Report) error {
	if !r.Status.Terminal() {
		return fmt.Errorf("%w: report status %s is not terminal", cadence.ErrInvalidTransition, r.Status)
	}
	if r.Bucket < 0 || r.Bucket >= eng.config.BucketCount {
		return fmt.Errorf("%w: bucket %d", cadence.ErrBucketNotOwned, r.Bucket)
	}

	if eng.buckets.Owns(r.Bucket) {
		var msg scheduler.Message
		if r.Split != nil {
			msg = scheduler.SplitCompleted{
				RunID:   r.RunID,
				Bucket:  r.Bucket,
				Split:   *r.Split,
				Status:  r.Status,
				Message: r.Message,
				Worker:  r.Worker,
			}
		} else {
			msg = scheduler.JobCompleted{
				RunID:         r.RunID,
				WorkflowRunID: r.WorkflowRunID,
				Bucket:        r.Bucket,
				Status:        r.Status,
				Message:       r.Message,
			}
		}
		if err := eng.actor.Send(ctx, msg); err == nil {
			return nil
		}
		// The actor is stopping; another node will own the bucket.
	}

	_, err := eng.publisher.Publish(ctx, &broadcast.Report{
		RunID:         r.RunID,
		WorkflowRunID: r.WorkflowRunID,
		Bucket:        r.Bucket,
		Status:        r.Status,
		Message:       r.Message,
		Split:         r.Split,
		Worker:        r.Worker,
	})
	return err
}

// BucketOf returns the bucket a workflow's runs live in.
func (eng *Engine) BucketOf(workflowID int64) int {
	return bucket.Of(workflowID, eng.config.BucketCount)
}
