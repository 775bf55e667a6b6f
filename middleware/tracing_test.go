package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/executor"
	mw "github.com/xraph/cadence/middleware"
)

// traceDispatch runs req through the tracing middleware and returns the
// single ended span.
func traceDispatch(t *testing.T, req *executor.Request, handler mw.Handler) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)).Tracer("test")
	_ = mw.TracingWithTracer(tracer)(context.Background(), req, handler)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	out := map[string]any{}
	for _, a := range span.Attributes() {
		out[string(a.Key)] = a.Value.AsInterface()
	}
	return out
}

func succeed(context.Context) error { return nil }

// ──────────────────────────────────────────────────
// Attributes
// ──────────────────────────────────────────────────

func TestTracing_RunAttributes(t *testing.T) {
	tests := []struct {
		name string
		edit func(*executor.Request)
		want map[string]any
	}{
		{
			name: "retried run",
			edit: func(*executor.Request) {},
			want: map[string]any{
				"cadence.run.id":          int64(42),
				"cadence.workflow_run.id": int64(7),
				"cadence.job.id":          int64(3),
				"cadence.namespace":       "etl",
				"cadence.bucket":          int64(2),
				"cadence.route":           "ROUND_ROBIN",
				"cadence.attempt":         int64(1),
			},
		},
		{
			name: "split from a named node",
			edit: func(r *executor.Request) {
				r.Attempt = 0
				r.Node = "node-a"
				r.Split = &crdt.Range{Start: 10, End: 20}
			},
			want: map[string]any{
				"cadence.run.id":          int64(42),
				"cadence.workflow_run.id": int64(7),
				"cadence.job.id":          int64(3),
				"cadence.namespace":       "etl",
				"cadence.bucket":          int64(2),
				"cadence.route":           "ROUND_ROBIN",
				"cadence.attempt":         int64(0),
				"cadence.node":            "node-a",
				"cadence.split.start":     int64(10),
				"cadence.split.end":       int64(20),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTestRequest()
			tt.edit(req)
			span := traceDispatch(t, req, succeed)

			if span.Name() != "cadence.job.dispatch" {
				t.Errorf("Name = %q", span.Name())
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("SpanKind = %v, want client", span.SpanKind())
			}
			if diff := cmp.Diff(tt.want, spanAttrs(span)); diff != "" {
				t.Errorf("attributes (-want +got):\n%s", diff)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Status
// ──────────────────────────────────────────────────

func TestTracing_DispatchOutcome(t *testing.T) {
	span := traceDispatch(t, newTestRequest(), succeed)
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	refused := errors.New("executor refused run 42")
	span = traceDispatch(t, newTestRequest(), func(context.Context) error { return refused })
	if span.Status().Code != codes.Error || span.Status().Description != refused.Error() {
		t.Errorf("status = %+v", span.Status())
	}
	var recorded bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("dispatch error not recorded on the span")
	}
}

func TestTracing_ReturnsDispatchError(t *testing.T) {
	refused := errors.New("executor refused")
	tracer := sdktrace.NewTracerProvider().Tracer("test")
	err := mw.TracingWithTracer(tracer)(context.Background(), newTestRequest(), func(context.Context) error {
		return refused
	})
	if !errors.Is(err, refused) {
		t.Fatalf("err = %v, want %v", err, refused)
	}
}

func TestTracing_ExecutorSeesDispatchSpan(t *testing.T) {
	var inner trace.SpanContext
	span := traceDispatch(t, newTestRequest(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Errorf("executor context span = %v, want %v", inner.SpanID(), span.SpanContext().SpanID())
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestRequest(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
