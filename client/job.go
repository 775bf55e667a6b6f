package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// GetJobRun returns one job run.
func (c *Client) GetJobRun(ctx context.Context, runID id.RunID) (*job.Run, error) {
	var run job.Run
	if err := c.do(ctx, http.MethodGet, "/v1/job-runs/"+runID.String(), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RefreshJobInfo tells every node that a job definition changed.
func (c *Client) RefreshJobInfo(ctx context.Context, jobID int64, op broadcast.RefreshOp) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/refresh", jobID), api.RefreshRequest{Op: op}, nil)
}

// Report delivers an executor outcome. Executors without a Go runtime post
// the same JSON body to /v1/reports.
func (c *Client) Report(ctx context.Context, r engine.Report) error {
	return c.do(ctx, http.MethodPost, "/v1/reports", r, nil)
}

// Stats returns the scheduling state of the node.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health probes the node.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
