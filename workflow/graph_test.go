package workflow_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

func diamond() *workflow.Graph {
	// 1 → {2, 3} → 4
	return workflow.NewGraph([]int64{1, 2, 3, 4}, []workflow.Edge{
		{JobID: 2, ParentJobID: 1},
		{JobID: 3, ParentJobID: 1},
		{JobID: 4, ParentJobID: 2},
		{JobID: 4, ParentJobID: 3},
		{JobID: 4, ParentJobID: 3},
	})
}

func TestGraph_ParentsChildrenRoots(t *testing.T) {
	g := diamond()

	if diff := cmp.Diff([]int64{1}, g.Roots()); diff != "" {
		t.Errorf("Roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2, 3}, g.Parents(4)); diff != "" {
		t.Errorf("Parents(4) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2, 3}, g.Children(1)); diff != "" {
		t.Errorf("Children(1) mismatch (-want +got):\n%s", diff)
	}
	if got := len(g.Edges()); got != 4 {
		t.Errorf("len(Edges) = %d, want 4 after dedup", got)
	}
}

func TestGraph_Validate(t *testing.T) {
	tests := []struct {
		name  string
		jobs  []int64
		edges []workflow.Edge
		want  error
	}{
		{"ok", []int64{1, 2}, []workflow.Edge{{JobID: 2, ParentJobID: 1}}, nil},
		{"unknown parent", []int64{1}, []workflow.Edge{{JobID: 1, ParentJobID: 9}}, cadence.ErrUnknownJob},
		{"unknown child", []int64{1}, []workflow.Edge{{JobID: 9, ParentJobID: 1}}, cadence.ErrUnknownJob},
		{"self loop", []int64{1}, []workflow.Edge{{JobID: 1, ParentJobID: 1}}, cadence.ErrCyclicGraph},
		{"cycle", []int64{1, 2, 3}, []workflow.Edge{
			{JobID: 2, ParentJobID: 1}, {JobID: 3, ParentJobID: 2}, {JobID: 2, ParentJobID: 3},
		}, cadence.ErrCyclicGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := workflow.NewGraph(tt.jobs, tt.edges).Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGraph_TopoOrder(t *testing.T) {
	order, err := diamond().TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4}, order); diff != "" {
		t.Errorf("TopoOrder mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_Restrict(t *testing.T) {
	g := diamond().Restrict([]int64{3, 4})

	if diff := cmp.Diff([]int64{3}, g.Roots()); diff != "" {
		t.Errorf("Roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{3}, g.Parents(4)); diff != "" {
		t.Errorf("Parents(4) mismatch (-want +got):\n%s", diff)
	}
	if g.Has(1) {
		t.Error("restricted graph still holds job 1")
	}
}

func TestStatus_CanTransition(t *testing.T) {
	if !workflow.StatusDraft.CanTransition(workflow.StatusOnline) {
		t.Error("DRAFT → ONLINE rejected")
	}
	if !workflow.StatusOffline.CanTransition(workflow.StatusOnline) {
		t.Error("OFFLINE → ONLINE rejected")
	}
	if workflow.StatusDraft.CanTransition(workflow.StatusOffline) {
		t.Error("DRAFT → OFFLINE accepted")
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		in       []job.Status
		want     workflow.RunStatus
		finished bool
	}{
		{"empty", nil, workflow.RunRunning, false},
		{"active", []job.Status{job.StatusSuccess, job.StatusWaiting}, workflow.RunRunning, false},
		{"all success", []job.Status{job.StatusSuccess, job.StatusSuccess}, workflow.RunSuccess, true},
		{"fail wins", []job.Status{job.StatusFail, job.StatusCancelled}, workflow.RunFail, true},
		{"timeout is failure", []job.Status{job.StatusTimeout, job.StatusSuccess}, workflow.RunFail, true},
		{"killed", []job.Status{job.StatusCancelled, job.StatusSuccess}, workflow.RunCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, finished := workflow.Aggregate(tt.in)
			if got != tt.want || finished != tt.finished {
				t.Errorf("Aggregate = (%s, %v), want (%s, %v)", got, finished, tt.want, tt.finished)
			}
		})
	}
}
