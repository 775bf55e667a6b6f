package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/cadence/id"
)

// TriggerResponse is returned when a workflow run is started.
type TriggerResponse struct {
	WorkflowRunID id.RunID `json:"workflow_run_id"`
}

// ScheduleResponse describes the timed trigger of a workflow.
type ScheduleResponse struct {
	WorkflowID int64      `json:"workflow_id"`
	Scheduled  bool       `json:"scheduled"`
	Next       *time.Time `json:"next,omitempty"`
}

func (a *API) getWorkflow(c *gin.Context) {
	workflowID, err := paramInt(c, "workflowId")
	if err != nil {
		a.fail(c, err)
		return
	}
	wf, err := a.eng.Catalog().GetWorkflowDefinition(c.Request.Context(), workflowID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (a *API) triggerWorkflow(c *gin.Context) {
	workflowID, err := paramInt(c, "workflowId")
	if err != nil {
		a.fail(c, err)
		return
	}
	runID, err := a.eng.TriggerWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{WorkflowRunID: runID})
}

func (a *API) onlineWorkflow(c *gin.Context) {
	workflowID, err := paramInt(c, "workflowId")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.eng.OnlineWorkflow(c.Request.Context(), workflowID); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) offlineWorkflow(c *gin.Context) {
	workflowID, err := paramInt(c, "workflowId")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.eng.OfflineWorkflow(c.Request.Context(), workflowID); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// workflowSchedule reports the next fire time when this node owns the
// workflow's bucket and the workflow has a timed trigger.
func (a *API) workflowSchedule(c *gin.Context) {
	workflowID, err := paramInt(c, "workflowId")
	if err != nil {
		a.fail(c, err)
		return
	}
	resp := ScheduleResponse{WorkflowID: workflowID}
	if next, ok := a.eng.Trigger().Next(workflowID); ok {
		resp.Scheduled = true
		resp.Next = &next
	}
	c.JSON(http.StatusOK, resp)
}
