package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/cadence/broadcast"
)

// RefreshRequest names the change made to a job definition.
type RefreshRequest struct {
	Op broadcast.RefreshOp `json:"op"`
}

func (a *API) getJobRun(c *gin.Context) {
	runID, err := paramRunID(c, "runId")
	if err != nil {
		a.fail(c, err)
		return
	}
	run, err := a.eng.Catalog().GetJobRun(c.Request.Context(), runID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *API) refreshJob(c *gin.Context) {
	jobID, err := paramInt(c, "jobId")
	if err != nil {
		a.fail(c, err)
		return
	}
	req := RefreshRequest{Op: broadcast.RefreshUpdate}
	if err := bind(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	switch req.Op {
	case broadcast.RefreshUpdate, broadcast.RefreshDelete:
	default:
		a.fail(c, badRequest("unknown refresh op %q", req.Op))
		return
	}
	if err := a.eng.RefreshJobInfo(c.Request.Context(), jobID, req.Op); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
