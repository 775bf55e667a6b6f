package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// WorkflowRunResponse is a workflow run with its job runs.
type WorkflowRunResponse struct {
	*workflow.Run
	JobRuns []*job.Run `json:"job_runs"`
}

// RerunRequest selects the job runs to repeat. Keys are earlier job run
// ids, values their job ids. Empty selects every job run that did not
// succeed.
type RerunRequest struct {
	JobRuns map[id.RunID]int64 `json:"job_runs,omitempty"`
}

func (a *API) getWorkflowRun(c *gin.Context) {
	runID, err := paramRunID(c, "runId")
	if err != nil {
		a.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	wr, err := a.eng.Catalog().GetWorkflowRun(ctx, runID)
	if err != nil {
		a.fail(c, err)
		return
	}
	runs, err := a.eng.Catalog().ListJobRuns(ctx, runID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, WorkflowRunResponse{Run: wr, JobRuns: runs})
}

func (a *API) killWorkflowRun(c *gin.Context) {
	runID, err := paramRunID(c, "runId")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.eng.KillWorkflowRun(c.Request.Context(), runID); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *API) rerunWorkflowRun(c *gin.Context) {
	runID, err := paramRunID(c, "runId")
	if err != nil {
		a.fail(c, err)
		return
	}
	var req RerunRequest
	if err := bind(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	next, err := a.eng.RerunWorkflowRun(c.Request.Context(), runID, req.JobRuns)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{WorkflowRunID: next})
}
