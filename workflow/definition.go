package workflow

import (
	"slices"
	"time"
)

// Status is the publication status of a workflow definition.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// CanTransition reports whether a definition may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusOnline
	case StatusOnline:
		return next == StatusOffline
	case StatusOffline:
		return next == StatusOnline
	}
	return false
}

// TriggerType selects how a workflow is fired automatically.
type TriggerType string

const (
	// TriggerCron fires on a cron expression (TriggerValue).
	TriggerCron TriggerType = "CRON"
	// TriggerFixedRate fires every TriggerValue (a Go duration string).
	TriggerFixedRate TriggerType = "FIXED_RATE"
	// TriggerManual is only fired through the API.
	TriggerManual TriggerType = "MANUAL"
)

// Edge states that JobID depends on ParentJobID.
type Edge struct {
	JobID       int64 `json:"job_id"        msgpack:"job_id"`
	ParentJobID int64 `json:"parent_job_id" msgpack:"parent_job_id"`
}

// Definition is the static configuration of a workflow.
type Definition struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Namespace    string        `json:"namespace"`
	TriggerType  TriggerType   `json:"trigger_type"`
	TriggerValue string        `json:"trigger_value,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	MaxRetries   int           `json:"max_retries"`
	Priority     int           `json:"priority"`
	Status       Status        `json:"status"`
	JobIDs       []int64       `json:"job_ids"`
	Edges        []Edge        `json:"edges,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Graph builds the dependency graph of the definition.
func (d *Definition) Graph() *Graph {
	return NewGraph(d.JobIDs, d.Edges)
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.JobIDs = slices.Clone(d.JobIDs)
	c.Edges = slices.Clone(d.Edges)
	return &c
}
