package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/cadence/audit_hook"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestRun() *job.Run {
	return &job.Run{
		ID:            id.RunID(501),
		WorkflowRunID: id.RunID(500),
		WorkflowID:    10,
		JobID:         7,
		Bucket:        3,
		Namespace:     "reports",
		Timeout:       30 * time.Second,
		RetryCount:    2,
		MaxRetries:    3,
		Status:        job.StatusFail,
		Message:       "exit 1",
	}
}

func newTestWorkflowRun(status workflow.RunStatus) *workflow.Run {
	return &workflow.Run{
		ID:         id.RunID(500),
		WorkflowID: 10,
		EventID:    "evt-1",
		Status:     status,
		Bucket:     3,
	}
}

type wantEvent struct {
	action   string
	resource string
	category string
	severity string
	outcome  string
	id       string
}

func checkEvent(t *testing.T, evt *ah.AuditEvent, want wantEvent) {
	t.Helper()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != want.action {
		t.Errorf("Action: want %q, got %q", want.action, evt.Action)
	}
	if evt.Resource != want.resource {
		t.Errorf("Resource: want %q, got %q", want.resource, evt.Resource)
	}
	if evt.Category != want.category {
		t.Errorf("Category: want %q, got %q", want.category, evt.Category)
	}
	if evt.Severity != want.severity {
		t.Errorf("Severity: want %q, got %q", want.severity, evt.Severity)
	}
	if evt.Outcome != want.outcome {
		t.Errorf("Outcome: want %q, got %q", want.outcome, evt.Outcome)
	}
	if evt.ResourceID != want.id {
		t.Errorf("ResourceID: want %q, got %q", want.id, evt.ResourceID)
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Job run hooks ────────────────────────────────────

func TestExtension_JobDispatched(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()

	if err := e.OnJobDispatched(context.Background(), r, &crdt.Range{Start: 0, End: 50}); err != nil {
		t.Fatalf("OnJobDispatched: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobDispatched,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityInfo,
		outcome:  ah.OutcomeSuccess,
		id:       r.ID.String(),
	})
	if evt.Metadata["job_id"] != int64(7) {
		t.Errorf("Metadata[job_id]: want 7, got %v", evt.Metadata["job_id"])
	}
	if evt.Metadata["namespace"] != "reports" {
		t.Errorf("Metadata[namespace]: want %q, got %v", "reports", evt.Metadata["namespace"])
	}
	if evt.Metadata["split"] != "[0,50)" {
		t.Errorf("Metadata[split]: want %q, got %v", "[0,50)", evt.Metadata["split"])
	}
}

func TestExtension_JobDispatched_NoSplit(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnJobDispatched(context.Background(), newTestRun(), nil); err != nil {
		t.Fatalf("OnJobDispatched: %v", err)
	}
	if _, ok := rec.last().Metadata["split"]; ok {
		t.Error("split metadata set for an unsplit dispatch")
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()

	if err := e.OnJobCompleted(context.Background(), r, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobCompleted,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityInfo,
		outcome:  ah.OutcomeSuccess,
		id:       r.ID.String(),
	})
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("Metadata[elapsed_ms]: want 1500, got %v", evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := e.OnJobRetrying(context.Background(), r, 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobRetrying,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityWarning,
		outcome:  ah.OutcomeFailure,
		id:       r.ID.String(),
	})
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want 2, got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("Metadata[next_run_at]: got %v", evt.Metadata["next_run_at"])
	}
	if evt.Reason != "exit 1" {
		t.Errorf("Reason: want %q, got %q", "exit 1", evt.Reason)
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()

	if err := e.OnJobFailed(context.Background(), r, "connection refused"); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobFailed,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityCritical,
		outcome:  ah.OutcomeFailure,
		id:       r.ID.String(),
	})
	if evt.Reason != "connection refused" {
		t.Errorf("Reason: want %q, got %q", "connection refused", evt.Reason)
	}
	if evt.Metadata["retry_count"] != 2 || evt.Metadata["max_retries"] != 3 {
		t.Errorf("retry metadata: got %v/%v", evt.Metadata["retry_count"], evt.Metadata["max_retries"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()

	if err := e.OnJobCancelled(context.Background(), r, "workflow run killed"); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobCancelled,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityWarning,
		outcome:  ah.OutcomeFailure,
		id:       r.ID.String(),
	})
	if evt.Reason != "workflow run killed" {
		t.Errorf("Reason: want %q, got %q", "workflow run killed", evt.Reason)
	}
}

func TestExtension_JobTimedOut(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRun()

	if err := e.OnJobTimedOut(context.Background(), r); err != nil {
		t.Fatalf("OnJobTimedOut: %v", err)
	}

	evt := rec.last()
	checkEvent(t, evt, wantEvent{
		action:   ah.ActionJobTimedOut,
		resource: ah.ResourceJobRun,
		category: ah.CategoryJob,
		severity: ah.SeverityCritical,
		outcome:  ah.OutcomeFailure,
		id:       r.ID.String(),
	})
	if evt.Reason != "timeout 30s" {
		t.Errorf("Reason: want %q, got %q", "timeout 30s", evt.Reason)
	}
}

// ── Workflow run hooks ───────────────────────────────

func TestExtension_WorkflowRunCompleted(t *testing.T) {
	tests := []struct {
		status   workflow.RunStatus
		action   string
		severity string
		outcome  string
	}{
		{workflow.RunSuccess, ah.ActionWorkflowSucceeded, ah.SeverityInfo, ah.OutcomeSuccess},
		{workflow.RunFail, ah.ActionWorkflowFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{workflow.RunCancelled, ah.ActionWorkflowCancelled, ah.SeverityWarning, ah.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := &mockRecorder{}
			e := ah.New(rec)
			wr := newTestWorkflowRun(tt.status)

			if err := e.OnWorkflowRunCompleted(context.Background(), wr, 2*time.Second); err != nil {
				t.Fatalf("OnWorkflowRunCompleted: %v", err)
			}

			evt := rec.last()
			checkEvent(t, evt, wantEvent{
				action:   tt.action,
				resource: ah.ResourceWorkflowRun,
				category: ah.CategoryWorkflow,
				severity: tt.severity,
				outcome:  tt.outcome,
				id:       wr.ID.String(),
			})
			if evt.Metadata["event_id"] != "evt-1" {
				t.Errorf("Metadata[event_id]: want %q, got %v", "evt-1", evt.Metadata["event_id"])
			}
		})
	}
}

// ── Cluster hooks ────────────────────────────────────

func TestExtension_BucketHooks(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	if err := e.OnBucketAcquired(ctx, 4); err != nil {
		t.Fatalf("OnBucketAcquired: %v", err)
	}
	checkEvent(t, rec.last(), wantEvent{
		action:   ah.ActionBucketAcquired,
		resource: ah.ResourceBucket,
		category: ah.CategoryCluster,
		severity: ah.SeverityInfo,
		outcome:  ah.OutcomeSuccess,
		id:       "4",
	})

	if err := e.OnBucketLost(ctx, 4); err != nil {
		t.Fatalf("OnBucketLost: %v", err)
	}
	checkEvent(t, rec.last(), wantEvent{
		action:   ah.ActionBucketLost,
		resource: ah.ResourceBucket,
		category: ah.CategoryCluster,
		severity: ah.SeverityWarning,
		outcome:  ah.OutcomeSuccess,
		id:       "4",
	})
}

func TestExtension_BroadcastApplied(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	evt := &broadcast.Event{ID: "1700000000000-0", Op: broadcast.OpOnline}

	if err := e.OnBroadcastApplied(context.Background(), evt); err != nil {
		t.Fatalf("OnBroadcastApplied: %v", err)
	}

	got := rec.last()
	checkEvent(t, got, wantEvent{
		action:   ah.ActionBroadcastApplied,
		resource: ah.ResourceEvent,
		category: ah.CategoryBroadcast,
		severity: ah.SeverityInfo,
		outcome:  ah.OutcomeSuccess,
		id:       "1700000000000-0",
	})
	if got.Metadata["op"] != "ONLINE" {
		t.Errorf("Metadata[op]: want %q, got %v", "ONLINE", got.Metadata["op"])
	}
}

// ── Filtering ────────────────────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed, ah.ActionBucketLost))

	ctx := context.Background()
	r := newTestRun()

	// Dispatch is not enabled.
	if err := e.OnJobDispatched(ctx, r, nil); err != nil {
		t.Fatalf("OnJobDispatched: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (dispatched disabled), got %d", rec.count())
	}

	if err := e.OnJobFailed(ctx, r, "boom"); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnBucketLost(ctx, 1); err != nil {
		t.Fatalf("OnBucketLost: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── Recorders ────────────────────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	if err := e.OnBucketAcquired(context.Background(), 0); err != nil {
		t.Fatalf("OnBucketAcquired: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionBucketAcquired {
		t.Errorf("Action: want %q, got %q", ah.ActionBucketAcquired, captured.Action)
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	var buf bytes.Buffer
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnJobFailed(context.Background(), newTestRun(), "boom"); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
	if !strings.Contains(buf.String(), "audit backend down") {
		t.Errorf("recorder error not logged: %q", buf.String())
	}
}

func TestNewLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := ah.New(ah.NewLogRecorder(logger))

	if err := e.OnJobFailed(context.Background(), newTestRun(), "connection refused"); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"level=ERROR",
		"action=job.failed",
		"resource_id=501",
		`reason="connection refused"`,
		"namespace=reports",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

// ── Registry integration ─────────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	r := newTestRun()

	reg.EmitJobDispatched(ctx, r, nil)
	reg.EmitJobCompleted(ctx, r, 50*time.Millisecond)
	reg.EmitJobRetrying(ctx, r, 1, time.Now())
	reg.EmitJobFailed(ctx, r, "fail")
	reg.EmitJobCancelled(ctx, r, "killed")
	reg.EmitJobTimedOut(ctx, r)
	reg.EmitWorkflowRunCompleted(ctx, newTestWorkflowRun(workflow.RunSuccess), time.Second)
	reg.EmitWorkflowRunCompleted(ctx, newTestWorkflowRun(workflow.RunFail), time.Second)
	reg.EmitWorkflowRunCompleted(ctx, newTestWorkflowRun(workflow.RunCancelled), time.Second)
	reg.EmitBucketAcquired(ctx, 1)
	reg.EmitBucketLost(ctx, 1)
	reg.EmitBroadcastApplied(ctx, &broadcast.Event{ID: "1-0", Op: broadcast.OpTrigger})

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 12 {
		t.Errorf("expected 12 actions, got %d", len(actions))
	}
}
