package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cadence/executor"
)

// tracerName is the instrumentation scope name for cadence tracing.
const tracerName = "github.com/xraph/cadence"

// Tracing wraps each dispatch in a client span named cadence.job.dispatch
// on the global TracerProvider.
//
// The span carries cadence.run.id, cadence.workflow_run.id, cadence.job.id,
// cadence.namespace, cadence.bucket, cadence.route and cadence.attempt;
// split dispatches add cadence.split.start and cadence.split.end, and
// cadence.node names the scheduling node when the request has one.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *executor.Request, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.Int64("cadence.run.id", int64(req.Run.ID)),
			attribute.Int64("cadence.workflow_run.id", int64(req.Run.WorkflowRunID)),
			attribute.Int64("cadence.job.id", req.Run.JobID),
			attribute.String("cadence.namespace", req.Run.Namespace),
			attribute.Int("cadence.bucket", req.Run.Bucket),
			attribute.String("cadence.route", string(req.Run.Route)),
			attribute.Int("cadence.attempt", req.Attempt),
		}
		if req.Node != "" {
			attrs = append(attrs, attribute.String("cadence.node", req.Node))
		}
		if req.Split != nil {
			attrs = append(attrs,
				attribute.Int64("cadence.split.start", req.Split.Start),
				attribute.Int64("cadence.split.end", req.Split.End),
			)
		}
		ctx, span := tracer.Start(ctx, "cadence.job.dispatch",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
