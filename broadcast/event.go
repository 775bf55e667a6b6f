package broadcast

import (
	"fmt"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// Op identifies the command an event carries.
type Op string

const (
	OpTrigger Op = "TRIGGER"
	OpOnline  Op = "ONLINE"
	OpOffline Op = "OFFLINE"
	OpKill    Op = "KILL"
	OpRerun   Op = "RERUN"
	OpRefresh Op = "REFRESH"
	OpReport  Op = "REPORT"
)

// Level is the entity an event addresses.
type Level string

const (
	LevelWorkflow    Level = "WORKFLOW"
	LevelWorkflowRun Level = "WORKFLOW_RUN"
	LevelJob         Level = "JOB"
)

// Event is one broadcast command.
type Event struct {
	ID        string    `json:"id"`
	Op        Op        `json:"op"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"ts"`
	Payload   Payload   `json:"-"`
}

// Accept routes the event to the visitor method of its payload.
func (e *Event) Accept(v Visitor) { e.Payload.accept(e, v) }

func (e *Event) String() string {
	return fmt.Sprintf("%s/%s %s", e.Op, e.Level, e.ID)
}

// Payload is implemented only by the payload types of this package.
type Payload interface {
	Op() Op
	Level() Level
	accept(e *Event, v Visitor)
}

// Visitor handles every payload type.
type Visitor interface {
	VisitTrigger(e *Event, p *Trigger)
	VisitOnline(e *Event, p *Online)
	VisitOffline(e *Event, p *Offline)
	VisitKill(e *Event, p *Kill)
	VisitRerun(e *Event, p *Rerun)
	VisitRefresh(e *Event, p *Refresh)
	VisitReport(e *Event, p *Report)
}

// Trigger starts a new run of a workflow. It carries the job set and graph
// so receivers derive identical runs without reading the catalog.
type Trigger struct {
	WorkflowID  int64           `json:"workflow_id"  msgpack:"workflow_id"`
	Namespace   string          `json:"namespace"    msgpack:"namespace"`
	JobIDs      []int64         `json:"job_ids"      msgpack:"job_ids"`
	Edges       []workflow.Edge `json:"edges"        msgpack:"edges"`
	TriggerTime time.Time       `json:"trigger_time" msgpack:"trigger_time"`
}

// Online marks a workflow ONLINE so its cron trigger starts firing.
type Online struct {
	WorkflowID int64 `json:"workflow_id" msgpack:"workflow_id"`
}

// Offline stops future triggers of a workflow. Runs in flight continue.
type Offline struct {
	WorkflowID int64 `json:"workflow_id" msgpack:"workflow_id"`
}

// Kill cancels every active job run of a workflow run.
type Kill struct {
	WorkflowID    int64    `json:"workflow_id"     msgpack:"workflow_id"`
	WorkflowRunID id.RunID `json:"workflow_run_id" msgpack:"workflow_run_id"`
}

// Rerun re-executes selected job runs of a finished workflow run. JobRuns
// maps each old job run id to its job id.
type Rerun struct {
	WorkflowID    int64              `json:"workflow_id"     msgpack:"workflow_id"`
	WorkflowRunID id.RunID           `json:"workflow_run_id" msgpack:"workflow_run_id"`
	JobRuns       map[id.RunID]int64 `json:"job_runs"        msgpack:"job_runs"`
}

// RefreshOp tells receivers why a job definition changed.
type RefreshOp string

const (
	RefreshUpdate RefreshOp = "UPDATE"
	RefreshDelete RefreshOp = "DELETE"
)

// Refresh invalidates a cached job definition.
type Refresh struct {
	JobID int64     `json:"job_id" msgpack:"job_id"`
	Kind  RefreshOp `json:"op"     msgpack:"op"`
}

// Report forwards a completion to whichever node owns Bucket. Split is
// set for a single range of a sharded run.
type Report struct {
	RunID         id.RunID    `json:"run_id"          msgpack:"run_id"`
	WorkflowRunID id.RunID    `json:"workflow_run_id" msgpack:"workflow_run_id"`
	Bucket        int         `json:"bucket"          msgpack:"bucket"`
	Status        job.Status  `json:"status"          msgpack:"status"`
	Message       string      `json:"message,omitempty" msgpack:"message,omitempty"`
	Split         *crdt.Range `json:"split,omitempty" msgpack:"split,omitempty"`
	Worker        string      `json:"worker,omitempty" msgpack:"worker,omitempty"`
}

func (*Trigger) Op() Op { return OpTrigger }
func (*Online) Op() Op  { return OpOnline }
func (*Offline) Op() Op { return OpOffline }
func (*Kill) Op() Op    { return OpKill }
func (*Rerun) Op() Op   { return OpRerun }
func (*Refresh) Op() Op { return OpRefresh }
func (*Report) Op() Op  { return OpReport }

func (*Trigger) Level() Level { return LevelWorkflow }
func (*Online) Level() Level  { return LevelWorkflow }
func (*Offline) Level() Level { return LevelWorkflow }
func (*Kill) Level() Level    { return LevelWorkflowRun }
func (*Rerun) Level() Level   { return LevelWorkflowRun }
func (*Refresh) Level() Level { return LevelJob }
func (*Report) Level() Level  { return LevelJob }

func (p *Trigger) accept(e *Event, v Visitor) { v.VisitTrigger(e, p) }
func (p *Online) accept(e *Event, v Visitor)  { v.VisitOnline(e, p) }
func (p *Offline) accept(e *Event, v Visitor) { v.VisitOffline(e, p) }
func (p *Kill) accept(e *Event, v Visitor)    { v.VisitKill(e, p) }
func (p *Rerun) accept(e *Event, v Visitor)   { v.VisitRerun(e, p) }
func (p *Refresh) accept(e *Event, v Visitor) { v.VisitRefresh(e, p) }
func (p *Report) accept(e *Event, v Visitor)  { v.VisitReport(e, p) }

// newPayload returns an empty payload for op.
func newPayload(op Op) (Payload, error) {
	switch op {
	case OpTrigger:
		return &Trigger{}, nil
	case OpOnline:
		return &Online{}, nil
	case OpOffline:
		return &Offline{}, nil
	case OpKill:
		return &Kill{}, nil
	case OpRerun:
		return &Rerun{}, nil
	case OpRefresh:
		return &Refresh{}, nil
	case OpReport:
		return &Report{}, nil
	}
	return nil, fmt.Errorf("broadcast: unknown op %q", op)
}
