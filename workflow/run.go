package workflow

import (
	"time"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// RunStatus is the aggregate status of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSuccess   RunStatus = "SUCCESS"
	RunFail      RunStatus = "FAIL"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the workflow run has finished.
func (s RunStatus) Terminal() bool { return s != RunRunning && s != "" }

// Run is one triggered execution of a workflow.
type Run struct {
	ID         id.RunID   `json:"id"`
	WorkflowID int64      `json:"workflow_id"`
	EventID    string     `json:"event_id"`
	Status     RunStatus  `json:"status"`
	Bucket     int        `json:"bucket"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Aggregate derives a workflow run status from its job run statuses. It
// reports false while any job run is still active. A failure anywhere wins
// over cancellation; SUCCESS requires every job run to succeed.
func Aggregate(statuses []job.Status) (RunStatus, bool) {
	if len(statuses) == 0 {
		return RunRunning, false
	}
	failed, cancelled := false, false
	for _, s := range statuses {
		switch s {
		case job.StatusFail, job.StatusTimeout:
			failed = true
		case job.StatusCancelled:
			cancelled = true
		case job.StatusSuccess:
		default:
			return RunRunning, false
		}
	}
	switch {
	case failed:
		return RunFail, true
	case cancelled:
		return RunCancelled, true
	}
	return RunSuccess, true
}
