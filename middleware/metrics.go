package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/executor"
)

// meterName is the instrumentation scope name for cadence metrics.
const meterName = "github.com/xraph/cadence"

// Metrics records dispatch metrics on the global MeterProvider.
//
// Instruments:
//   - cadence.dispatch.duration (Float64Histogram, s)
//   - cadence.dispatch.total (Int64Counter)
//   - cadence.dispatch.retries (Int64Counter): dispatches with Attempt > 0
//
// Every point carries namespace, route, kind ("run" or "split") and
// status ("ok" or "error"). Run and job ids stay off metrics; Tracing
// records them per span.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics on the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors fall back to noop instruments.
	duration, _ := meter.Float64Histogram(
		"cadence.dispatch.duration",
		metric.WithDescription("Duration of executor dispatch calls in seconds"),
		metric.WithUnit("s"),
	)
	total, _ := meter.Int64Counter(
		"cadence.dispatch.total",
		metric.WithDescription("Executor dispatch calls"),
		metric.WithUnit("{dispatch}"),
	)
	retries, _ := meter.Int64Counter(
		"cadence.dispatch.retries",
		metric.WithDescription("Executor dispatch calls for a retried run or split"),
		metric.WithUnit("{dispatch}"),
	)

	return func(ctx context.Context, req *executor.Request, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		kind, status := "run", "ok"
		if req.Split != nil {
			kind = "split"
		}
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("namespace", req.Run.Namespace),
			attribute.String("route", string(req.Run.Route)),
			attribute.String("kind", kind),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		total.Add(ctx, 1, attrs)
		if req.Attempt > 0 {
			retries.Add(ctx, 1, attrs)
		}
		return err
	}
}
