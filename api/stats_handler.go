package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// StatsResponse describes the scheduling state of this node.
type StatsResponse struct {
	NodeID       string  `json:"node_id"`
	Buckets      []int   `json:"buckets"`
	Loading      []int   `json:"loading"`
	Runs         int     `json:"runs"`
	Queued       int     `json:"queued"`
	WorkflowRuns int     `json:"workflow_runs"`
	Cursor       int64   `json:"cursor"`
	MaxRunSeq    int64   `json:"max_run_seq"`
	Deduped      int     `json:"deduped"`
	Scheduled    []int64 `json:"scheduled_workflows"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status  string `json:"status"`
	NodeID  string `json:"node_id"`
	Buckets int    `json:"buckets"`
}

func (a *API) stats(c *gin.Context) {
	s, err := a.eng.Actor().Snapshot(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	scheduled := a.eng.Trigger().Scheduled()
	slices.Sort(scheduled)

	c.JSON(http.StatusOK, StatsResponse{
		NodeID:       a.eng.NodeID(),
		Buckets:      a.eng.Buckets().Owned(),
		Loading:      s.Loading,
		Runs:         s.Runs,
		Queued:       s.Queued,
		WorkflowRuns: s.WorkflowRuns,
		Cursor:       s.Cursor,
		MaxRunSeq:    s.MaxRunSeq,
		Deduped:      s.Deduped,
		Scheduled:    scheduled,
	})
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		NodeID:  a.eng.NodeID(),
		Buckets: len(a.eng.Buckets().Owned()),
	})
}
