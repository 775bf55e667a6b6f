package job_test

import (
	"testing"
	"time"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusWaiting, job.StatusRunning, true},
		{job.StatusWaiting, job.StatusCancelled, true},
		{job.StatusWaiting, job.StatusSuccess, false},
		{job.StatusRunning, job.StatusSuccess, true},
		{job.StatusRunning, job.StatusTimeout, true},
		{job.StatusFail, job.StatusWaiting, true},
		{job.StatusTimeout, job.StatusWaiting, true},
		{job.StatusTimeout, job.StatusFail, true},
		{job.StatusFail, job.StatusTimeout, false},
		{job.StatusSuccess, job.StatusWaiting, false},
		{job.StatusCancelled, job.StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []job.Status{job.StatusSuccess, job.StatusFail, job.StatusCancelled, job.StatusTimeout} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []job.Status{job.StatusWaiting, job.StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestNewRun_AppliesDefinition(t *testing.T) {
	now := time.Unix(1700000000, 0)
	def := &job.Definition{
		ID: 3, WorkflowID: 7, Namespace: "etl",
		Route: job.RouteSharding, Block: job.BlockDiscardLater,
		Timeout: time.Minute, MaxRetries: 2, RetryInterval: 5 * time.Second,
		Priority: 4, ShardTotal: 20, Params: []byte(`{}`),
	}
	r := job.NewRun(def, 100, 50, 3, now, []id.RunID{99})

	if r.Status != job.StatusWaiting {
		t.Errorf("Status = %s, want WAITING", r.Status)
	}
	if r.Namespace != "etl" || r.MaxRetries != 2 || r.Priority != 4 {
		t.Errorf("definition not applied: %+v", r)
	}
	if !r.Sharded() || r.Shards == nil || r.Shards.Total.End != 20 {
		t.Errorf("shard progress not initialised: %+v", r.Shards)
	}
	if !r.HasRetriesLeft() {
		t.Error("HasRetriesLeft() = false on a fresh run")
	}
}

func TestRun_TimedOut(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := &job.Run{Status: job.StatusRunning, Timeout: 10 * time.Second, DispatchedAt: start}

	if r.TimedOut(start.Add(9 * time.Second)) {
		t.Error("TimedOut before deadline")
	}
	if !r.TimedOut(start.Add(10 * time.Second)) {
		t.Error("not TimedOut at deadline")
	}
	r.Timeout = 0
	if r.TimedOut(start.Add(time.Hour)) {
		t.Error("zero timeout should never time out")
	}
}

func TestRun_CloneIsDeep(t *testing.T) {
	def := &job.Definition{ID: 1, Route: job.RouteSharding, ShardTotal: 10}
	r := job.NewRun(def, 1, 1, 0, time.Now(), []id.RunID{5})
	c := r.Clone()

	c.Parents[0] = 6
	c.Shards.Done.Add(c.Shards.Total)

	if r.Parents[0] != 5 {
		t.Error("Clone shares Parents")
	}
	if r.Shards.Finished() {
		t.Error("Clone shares Shards")
	}
}
