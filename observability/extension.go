package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.JobDispatched        = (*MetricsExtension)(nil)
	_ ext.JobCompleted         = (*MetricsExtension)(nil)
	_ ext.JobRetrying          = (*MetricsExtension)(nil)
	_ ext.JobFailed            = (*MetricsExtension)(nil)
	_ ext.JobCancelled         = (*MetricsExtension)(nil)
	_ ext.JobTimedOut          = (*MetricsExtension)(nil)
	_ ext.WorkflowRunCompleted = (*MetricsExtension)(nil)
	_ ext.BucketAcquired       = (*MetricsExtension)(nil)
	_ ext.BucketLost           = (*MetricsExtension)(nil)
	_ ext.BroadcastApplied     = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/cadence/observability"

// MetricsExtension records lifecycle counters through an OTel meter. Job
// counters carry a namespace attribute; workflow run completions carry
// status; broadcasts carry op.
type MetricsExtension struct {
	JobDispatched        metric.Int64Counter
	JobCompleted         metric.Int64Counter
	JobRetried           metric.Int64Counter
	JobFailed            metric.Int64Counter
	JobCancelled         metric.Int64Counter
	JobTimedOut          metric.Int64Counter
	WorkflowRunCompleted metric.Int64Counter
	WorkflowRunDuration  metric.Float64Histogram
	BucketAcquired       metric.Int64Counter
	BucketLost           metric.Int64Counter
	BroadcastApplied     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the given
// meter. On instrument errors the OTel API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	hist, _ := meter.Float64Histogram("cadence.workflow_run.duration", //nolint:errcheck // noop fallback
		metric.WithDescription("Time from workflow run creation to completion"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobDispatched:        counter("cadence.job.dispatched", "Job runs accepted by an executor"),
		JobCompleted:         counter("cadence.job.completed", "Job runs finished successfully"),
		JobRetried:           counter("cadence.job.retried", "Job run retries scheduled"),
		JobFailed:            counter("cadence.job.failed", "Job runs failed terminally"),
		JobCancelled:         counter("cadence.job.cancelled", "Job runs cancelled"),
		JobTimedOut:          counter("cadence.job.timed_out", "Job runs that exceeded their timeout"),
		WorkflowRunCompleted: counter("cadence.workflow_run.completed", "Workflow runs reaching a terminal status"),
		WorkflowRunDuration:  hist,
		BucketAcquired:       counter("cadence.bucket.acquired", "Buckets acquired by this node"),
		BucketLost:           counter("cadence.bucket.lost", "Buckets lost by this node"),
		BroadcastApplied:     counter("cadence.broadcast.applied", "Broadcast events applied"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func nsAttr(r *job.Run) metric.AddOption {
	return metric.WithAttributes(attribute.String("namespace", r.Namespace))
}

// ── Job run hooks ───────────────────────────────────

// OnJobDispatched implements ext.JobDispatched.
func (m *MetricsExtension) OnJobDispatched(ctx context.Context, r *job.Run, _ *crdt.Range) error {
	m.JobDispatched.Add(ctx, 1, nsAttr(r))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, r *job.Run, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, nsAttr(r))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, r *job.Run, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, nsAttr(r))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, r *job.Run, _ string) error {
	m.JobFailed.Add(ctx, 1, nsAttr(r))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, r *job.Run, _ string) error {
	m.JobCancelled.Add(ctx, 1, nsAttr(r))
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, r *job.Run) error {
	m.JobTimedOut.Add(ctx, 1, nsAttr(r))
	return nil
}

// ── Cluster hooks ───────────────────────────────────

// OnWorkflowRunCompleted implements ext.WorkflowRunCompleted.
func (m *MetricsExtension) OnWorkflowRunCompleted(ctx context.Context, wr *workflow.Run, elapsed time.Duration) error {
	attrs := attribute.String("status", string(wr.Status))
	m.WorkflowRunCompleted.Add(ctx, 1, metric.WithAttributes(attrs))
	m.WorkflowRunDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs))
	return nil
}

// OnBucketAcquired implements ext.BucketAcquired.
func (m *MetricsExtension) OnBucketAcquired(ctx context.Context, _ int) error {
	m.BucketAcquired.Add(ctx, 1)
	return nil
}

// OnBucketLost implements ext.BucketLost.
func (m *MetricsExtension) OnBucketLost(ctx context.Context, _ int) error {
	m.BucketLost.Add(ctx, 1)
	return nil
}

// OnBroadcastApplied implements ext.BroadcastApplied.
func (m *MetricsExtension) OnBroadcastApplied(ctx context.Context, e *broadcast.Event) error {
	m.BroadcastApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(e.Op))))
	return nil
}
