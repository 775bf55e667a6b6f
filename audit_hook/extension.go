package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.JobDispatched        = (*Extension)(nil)
	_ ext.JobCompleted         = (*Extension)(nil)
	_ ext.JobRetrying          = (*Extension)(nil)
	_ ext.JobFailed            = (*Extension)(nil)
	_ ext.JobCancelled         = (*Extension)(nil)
	_ ext.JobTimedOut          = (*Extension)(nil)
	_ ext.WorkflowRunCompleted = (*Extension)(nil)
	_ ext.BucketAcquired       = (*Extension)(nil)
	_ ext.BucketLost           = (*Extension)(nil)
	_ ext.BroadcastApplied     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// NewLogRecorder returns a Recorder that writes each event as one log
// record.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges cadence lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job run hooks ───────────────────────────────────

// OnJobDispatched implements ext.JobDispatched.
func (e *Extension) OnJobDispatched(ctx context.Context, r *job.Run, split *crdt.Range) error {
	kv := runMeta(r)
	if split != nil {
		kv = append(kv, "split", fmt.Sprintf("[%d,%d)", split.Start, split.End))
	}
	return e.record(ctx, ActionJobDispatched, SeverityInfo, OutcomeSuccess,
		ResourceJobRun, r.ID.String(), CategoryJob, "", kv...)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, r *job.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJobRun, r.ID.String(), CategoryJob, "",
		append(runMeta(r), "elapsed_ms", elapsed.Milliseconds())...)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, r *job.Run, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJobRun, r.ID.String(), CategoryJob, r.Message,
		append(runMeta(r),
			"attempt", attempt,
			"next_run_at", nextRunAt.Format(time.RFC3339),
		)...)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, r *job.Run, message string) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJobRun, r.ID.String(), CategoryJob, message,
		append(runMeta(r),
			"retry_count", r.RetryCount,
			"max_retries", r.MaxRetries,
		)...)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, r *job.Run, reason string) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure,
		ResourceJobRun, r.ID.String(), CategoryJob, reason, runMeta(r)...)
}

// OnJobTimedOut implements ext.JobTimedOut.
func (e *Extension) OnJobTimedOut(ctx context.Context, r *job.Run) error {
	return e.record(ctx, ActionJobTimedOut, SeverityCritical, OutcomeFailure,
		ResourceJobRun, r.ID.String(), CategoryJob, "timeout "+r.Timeout.String(), runMeta(r)...)
}

// ── Workflow run hooks ──────────────────────────────

// OnWorkflowRunCompleted implements ext.WorkflowRunCompleted.
func (e *Extension) OnWorkflowRunCompleted(ctx context.Context, wr *workflow.Run, elapsed time.Duration) error {
	action, severity, outcome := ActionWorkflowSucceeded, SeverityInfo, OutcomeSuccess
	switch wr.Status {
	case workflow.RunFail:
		action, severity, outcome = ActionWorkflowFailed, SeverityCritical, OutcomeFailure
	case workflow.RunCancelled:
		action, severity, outcome = ActionWorkflowCancelled, SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, action, severity, outcome,
		ResourceWorkflowRun, wr.ID.String(), CategoryWorkflow, "",
		"workflow_id", wr.WorkflowID,
		"event_id", wr.EventID,
		"bucket", wr.Bucket,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Cluster hooks ───────────────────────────────────

// OnBucketAcquired implements ext.BucketAcquired.
func (e *Extension) OnBucketAcquired(ctx context.Context, bucket int) error {
	return e.record(ctx, ActionBucketAcquired, SeverityInfo, OutcomeSuccess,
		ResourceBucket, strconv.Itoa(bucket), CategoryCluster, "")
}

// OnBucketLost implements ext.BucketLost.
func (e *Extension) OnBucketLost(ctx context.Context, bucket int) error {
	return e.record(ctx, ActionBucketLost, SeverityWarning, OutcomeSuccess,
		ResourceBucket, strconv.Itoa(bucket), CategoryCluster, "")
}

// OnBroadcastApplied implements ext.BroadcastApplied.
func (e *Extension) OnBroadcastApplied(ctx context.Context, evt *broadcast.Event) error {
	return e.record(ctx, ActionBroadcastApplied, SeverityInfo, OutcomeSuccess,
		ResourceEvent, evt.ID, CategoryBroadcast, "",
		"op", string(evt.Op),
	)
}

// ── Internal helpers ────────────────────────────────

func runMeta(r *job.Run) []any {
	return []any{
		"job_id", r.JobID,
		"workflow_run_id", r.WorkflowRunID.String(),
		"namespace", r.Namespace,
		"bucket", r.Bucket,
	}
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
