package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/cadence/engine"
)

// report accepts an executor's completion callback. Any node takes it;
// the engine forwards it to the bucket owner.
func (a *API) report(c *gin.Context) {
	var rep engine.Report
	if err := bind(c, &rep); err != nil {
		a.fail(c, err)
		return
	}
	if rep.RunID <= 0 {
		a.fail(c, badRequest("run_id is required"))
		return
	}
	if err := a.eng.Report(c.Request.Context(), &rep); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
