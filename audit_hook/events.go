package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobDispatched     = "job.dispatched"
	ActionJobCompleted      = "job.completed"
	ActionJobRetrying       = "job.retrying"
	ActionJobFailed         = "job.failed"
	ActionJobCancelled      = "job.cancelled"
	ActionJobTimedOut       = "job.timed_out"
	ActionWorkflowSucceeded = "workflow.succeeded"
	ActionWorkflowFailed    = "workflow.failed"
	ActionWorkflowCancelled = "workflow.cancelled"
	ActionBucketAcquired    = "bucket.acquired"
	ActionBucketLost        = "bucket.lost"
	ActionBroadcastApplied  = "broadcast.applied"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "cadence.job"
	CategoryWorkflow  = "cadence.workflow"
	CategoryCluster   = "cadence.cluster"
	CategoryBroadcast = "cadence.broadcast"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJobRun      = "job_run"
	ResourceWorkflowRun = "workflow_run"
	ResourceBucket      = "bucket"
	ResourceEvent       = "broadcast_event"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobDispatched,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobTimedOut,
		ActionWorkflowSucceeded,
		ActionWorkflowFailed,
		ActionWorkflowCancelled,
		ActionBucketAcquired,
		ActionBucketLost,
		ActionBroadcastApplied,
	}
}
