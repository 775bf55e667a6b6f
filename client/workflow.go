package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/workflow"
)

// GetWorkflow returns a workflow definition.
func (c *Client) GetWorkflow(ctx context.Context, workflowID int64) (*workflow.Definition, error) {
	var wf workflow.Definition
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/workflows/%d", workflowID), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// TriggerWorkflow starts a run of an ONLINE workflow.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowID int64) (id.RunID, error) {
	var resp api.TriggerResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/workflows/%d/trigger", workflowID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.WorkflowRunID, nil
}

// OnlineWorkflow moves a workflow to ONLINE.
func (c *Client) OnlineWorkflow(ctx context.Context, workflowID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/workflows/%d/online", workflowID), nil, nil)
}

// OfflineWorkflow moves a workflow to OFFLINE.
func (c *Client) OfflineWorkflow(ctx context.Context, workflowID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/workflows/%d/offline", workflowID), nil, nil)
}

// Schedule reports the next timed fire of a workflow as seen by the node.
func (c *Client) Schedule(ctx context.Context, workflowID int64) (*api.ScheduleResponse, error) {
	var resp api.ScheduleResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/workflows/%d/schedule", workflowID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWorkflowRun returns a workflow run and its job runs.
func (c *Client) GetWorkflowRun(ctx context.Context, runID id.RunID) (*api.WorkflowRunResponse, error) {
	var resp api.WorkflowRunResponse
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// KillWorkflowRun cancels every active job run of a workflow run.
func (c *Client) KillWorkflowRun(ctx context.Context, runID id.RunID) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+runID.String()+"/kill", nil, nil)
}

// RerunWorkflowRun repeats job runs of a workflow run in a new workflow
// run. Keys of jobRuns are earlier job run ids, values their job ids; nil
// repeats every job run that did not succeed.
func (c *Client) RerunWorkflowRun(ctx context.Context, runID id.RunID, jobRuns map[id.RunID]int64) (id.RunID, error) {
	var resp api.TriggerResponse
	req := api.RerunRequest{JobRuns: jobRuns}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+runID.String()+"/rerun", req, &resp); err != nil {
		return 0, err
	}
	return resp.WorkflowRunID, nil
}
