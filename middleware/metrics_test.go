package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/job"
	mw "github.com/xraph/cadence/middleware"
)

// dispatchPoint is one counter data point keyed by its attributes.
type dispatchPoint struct {
	Namespace, Route, Kind, Status string
	Value                          int64
}

// recordDispatches runs each request through the metrics middleware,
// failing those with failed set, and returns the collected metrics.
func recordDispatches(t *testing.T, reqs []*executor.Request, failed map[*executor.Request]bool) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	for _, req := range reqs {
		_ = m(context.Background(), req, func(context.Context) error {
			if failed[req] {
				return errors.New("executor unreachable")
			}
			return nil
		})
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterPoints(t *testing.T, rm metricdata.ResourceMetrics, name string) map[dispatchPoint]bool {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return nil
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", name, m.Data)
	}
	out := map[dispatchPoint]bool{}
	for _, dp := range sum.DataPoints {
		get := func(key string) string {
			v, _ := dp.Attributes.Value(attribute.Key(key))
			return v.AsString()
		}
		out[dispatchPoint{get("namespace"), get("route"), get("kind"), get("status"), dp.Value}] = true
	}
	return out
}

// ──────────────────────────────────────────────────
// Counters
// ──────────────────────────────────────────────────

func TestMetrics_DispatchTotalsByKindAndStatus(t *testing.T) {
	whole := newTestRequest()
	whole.Attempt = 0
	failing := newTestRequest()
	failing.Attempt = 0
	split := newTestRequest()
	split.Attempt = 0
	split.Run.Route = job.RouteSharding
	split.Split = &crdt.Range{Start: 0, End: 100}

	rm := recordDispatches(t, []*executor.Request{whole, failing, split}, map[*executor.Request]bool{failing: true})

	want := map[dispatchPoint]bool{
		{"etl", "ROUND_ROBIN", "run", "ok", 1}:    true,
		{"etl", "ROUND_ROBIN", "run", "error", 1}: true,
		{"etl", "SHARDING", "split", "ok", 1}:     true,
	}
	if diff := cmp.Diff(want, counterPoints(t, rm, "cadence.dispatch.total")); diff != "" {
		t.Errorf("cadence.dispatch.total (-want +got):\n%s", diff)
	}
	if got := counterPoints(t, rm, "cadence.dispatch.retries"); len(got) != 0 {
		t.Errorf("first attempts counted as retries: %v", got)
	}
}

func TestMetrics_RetriesCountRedispatches(t *testing.T) {
	first := newTestRequest()
	first.Attempt = 0
	second := newTestRequest() // Attempt 1
	third := newTestRequest()
	third.Attempt = 2

	rm := recordDispatches(t, []*executor.Request{first, second, third}, nil)

	want := map[dispatchPoint]bool{{"etl", "ROUND_ROBIN", "run", "ok", 2}: true}
	if diff := cmp.Diff(want, counterPoints(t, rm, "cadence.dispatch.retries")); diff != "" {
		t.Errorf("cadence.dispatch.retries (-want +got):\n%s", diff)
	}
}

func TestMetrics_DurationPerDispatch(t *testing.T) {
	rm := recordDispatches(t, []*executor.Request{newTestRequest(), newTestRequest()}, nil)

	m := findMetric(rm, "cadence.dispatch.duration")
	if m == nil {
		t.Fatal("cadence.dispatch.duration not recorded")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %+v", m.Data)
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if unit := m.Unit; unit != "s" {
		t.Errorf("Unit = %q, want s", unit)
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestRequest(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
