package scheduler

import (
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/bucket"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// BuildTrigger derives the workflow run and job runs a TRIGGER event
// creates. Every node computes identical results for the same event id.
// defs must hold a definition for every job of the trigger.
func BuildTrigger(eventID string, p *broadcast.Trigger, at time.Time, defs map[int64]*job.Definition, bucketCount int) (*workflow.Run, []*job.Run, error) {
	g := workflow.NewGraph(p.JobIDs, p.Edges)
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	if !p.TriggerTime.IsZero() {
		at = p.TriggerTime
	}

	wr := &workflow.Run{
		ID:         id.Derive(eventID, id.WorkflowRunEntity(p.WorkflowID)),
		WorkflowID: p.WorkflowID,
		EventID:    eventID,
		Status:     workflow.RunRunning,
		Bucket:     bucket.Of(p.WorkflowID, bucketCount),
		CreatedAt:  at,
	}
	runID := func(jobID int64) id.RunID { return id.Derive(eventID, id.JobRunEntity(jobID)) }
	runs, err := buildRuns(wr, g, defs, runID, at)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range runs {
		if r.Namespace == "" {
			r.Namespace = p.Namespace
		}
	}
	return wr, runs, nil
}

// BuildRerun derives the new workflow run a RERUN event creates. Only the
// selected jobs run again; edges between them come from wf, edges to jobs
// outside the selection are dropped.
func BuildRerun(eventID string, p *broadcast.Rerun, at time.Time, wf *workflow.Definition, defs map[int64]*job.Definition, bucketCount int) (*workflow.Run, []*job.Run, error) {
	jobIDs := make([]int64, 0, len(p.JobRuns))
	previous := make(map[int64]id.RunID, len(p.JobRuns))
	for old, jobID := range p.JobRuns {
		if _, dup := previous[jobID]; dup {
			return nil, nil, fmt.Errorf("scheduler: rerun selects job %d twice", jobID)
		}
		previous[jobID] = old
		jobIDs = append(jobIDs, jobID)
	}

	g := wf.Graph().Restrict(jobIDs)
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}

	wr := &workflow.Run{
		ID:         id.Derive(eventID, id.WorkflowRunEntity(p.WorkflowID)),
		WorkflowID: p.WorkflowID,
		EventID:    eventID,
		Status:     workflow.RunRunning,
		Bucket:     bucket.Of(p.WorkflowID, bucketCount),
		CreatedAt:  at,
	}
	runID := func(jobID int64) id.RunID { return id.Derive(eventID, id.RerunEntity(previous[jobID])) }
	runs, err := buildRuns(wr, g, defs, runID, at)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range runs {
		if r.Namespace == "" {
			r.Namespace = wf.Namespace
		}
	}
	return wr, runs, nil
}

func buildRuns(wr *workflow.Run, g *workflow.Graph, defs map[int64]*job.Definition, runID func(int64) id.RunID, at time.Time) ([]*job.Run, error) {
	jobs, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	runs := make([]*job.Run, 0, len(jobs))
	for _, jobID := range jobs {
		def, ok := defs[jobID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", cadence.ErrJobNotFound, jobID)
		}
		parentJobs := g.Parents(jobID)
		parents := make([]id.RunID, 0, len(parentJobs))
		for _, pj := range parentJobs {
			parents = append(parents, runID(pj))
		}
		r := job.NewRun(def, runID(jobID), wr.ID, wr.Bucket, at, parents)
		r.WorkflowID = wr.WorkflowID
		if !def.Enabled {
			r.Status = job.StatusSuccess
			r.Message = "skipped: job disabled"
		}
		runs = append(runs, r)
	}
	return runs, nil
}
