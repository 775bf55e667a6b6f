// Package api provides the HTTP control surface of a cadence node.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/id"
)

// API wires the HTTP handlers of a cadence node together.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from a running Engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns a gin engine serving every route.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(a.requestLog(), gin.CustomRecovery(a.recovered))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no route " + c.Request.URL.Path})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all cadence API routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	a.registerWorkflowRoutes(r.Group("/v1/workflows"))
	a.registerRunRoutes(r.Group("/v1/runs"))
	a.registerJobRoutes(r.Group("/v1"))
	r.POST("/v1/reports", a.report)
	r.GET("/v1/stats", a.stats)
	r.GET("/healthz", a.health)
}

func (a *API) registerWorkflowRoutes(g *gin.RouterGroup) {
	g.GET("/:workflowId", a.getWorkflow)
	g.POST("/:workflowId/trigger", a.triggerWorkflow)
	g.POST("/:workflowId/online", a.onlineWorkflow)
	g.POST("/:workflowId/offline", a.offlineWorkflow)
	g.GET("/:workflowId/schedule", a.workflowSchedule)
}

func (a *API) registerRunRoutes(g *gin.RouterGroup) {
	g.GET("/:runId", a.getWorkflowRun)
	g.POST("/:runId/kill", a.killWorkflowRun)
	g.POST("/:runId/rerun", a.rerunWorkflowRun)
}

func (a *API) registerJobRoutes(g *gin.RouterGroup) {
	g.GET("/job-runs/:runId", a.getJobRun)
	g.POST("/jobs/:jobId/refresh", a.refreshJob)
}

// ──────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────

// requestLog logs every request at debug, and server errors at warn.
func (a *API) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.logger.Log(c.Request.Context(), level, "api request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *API) recovered(c *gin.Context, v any) {
	a.logger.Error("api: handler panic",
		slog.String("path", c.Request.URL.Path),
		slog.Any("panic", v),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// fail maps cadence sentinel errors to HTTP statuses.
func (a *API) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("api: request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, cadence.ErrJobNotFound),
		errors.Is(err, cadence.ErrWorkflowNotFound),
		errors.Is(err, cadence.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, cadence.ErrInvalidTransition),
		errors.Is(err, cadence.ErrWorkflowOffline):
		return http.StatusConflict
	case errors.Is(err, cadence.ErrBucketNotOwned),
		errors.Is(err, cadence.ErrCyclicGraph),
		errors.Is(err, cadence.ErrUnknownJob):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cadence.ErrTransportClosed),
		errors.Is(err, cadence.ErrActorStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// bind decodes an optional JSON body into v; an empty body leaves v as is.
func bind(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return badRequest("invalid body: %v", err)
	}
	return nil
}

func paramInt(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, badRequest("invalid %s %q", name, c.Param(name))
	}
	return v, nil
}

func paramRunID(c *gin.Context, name string) (id.RunID, error) {
	runID, err := id.ParseRunID(c.Param(name))
	if err != nil {
		return 0, badRequest("invalid %s %q", name, c.Param(name))
	}
	return runID, nil
}
