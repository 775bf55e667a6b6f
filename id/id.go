// Package id defines the identities used across cadence.
//
// Broadcast events and nodes are named by TypeIDs: "evt_…" and "node_…",
// UUIDv7 based, so ids sort by creation time. Job runs and workflow runs
// carry numeric RunIDs that are never generated but derived from the
// broadcast that created them, see Derive.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Kind is the TypeID prefix of an id.
type Kind string

const (
	// KindEvent names broadcast events created by TriggerWorkflow and
	// RerunWorkflowRun. Timed triggers use slot-derived ids instead.
	KindEvent Kind = "evt"
	// KindNode names scheduler nodes without a configured id.
	KindNode Kind = "node"
)

// ID is an event or node id. The zero value is no id.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

func generate(kind Kind) ID {
	tid, err := typeid.Generate(string(kind))
	if err != nil {
		panic(fmt.Sprintf("id: generate %s: %v", kind, err))
	}
	return ID{tid: tid, ok: true}
}

// NewEventID returns a fresh broadcast event id.
func NewEventID() ID { return generate(KindEvent) }

// NewNodeID returns a fresh node id.
func NewNodeID() ID { return generate(KindNode) }

// ParseEventID parses an id produced by NewEventID.
func ParseEventID(s string) (ID, error) { return parse(s, KindEvent) }

// ParseNodeID parses an id produced by NewNodeID.
func ParseNodeID(s string) (ID, error) { return parse(s, KindNode) }

func parse(s string, kind Kind) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("id: empty %s id", kind)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if got := Kind(tid.Prefix()); got != kind {
		return ID{}, fmt.Errorf("id: %q is a %s id, want %s", s, got, kind)
	}
	return ID{tid: tid, ok: true}, nil
}

// String returns the TypeID form, or "" for the zero ID.
func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Kind returns the prefix of i.
func (i ID) Kind() Kind {
	if !i.ok {
		return ""
	}
	return Kind(i.tid.Prefix())
}

// IsZero reports whether i is the zero ID.
func (i ID) IsZero() bool { return !i.ok }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText accepts event and node ids, and the empty string.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID{}
		return nil
	}
	tid, err := typeid.Parse(string(data))
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", data, err)
	}
	switch Kind(tid.Prefix()) {
	case KindEvent, KindNode:
	default:
		return fmt.Errorf("id: %q has unknown kind %q", data, tid.Prefix())
	}
	*i = ID{tid: tid, ok: true}
	return nil
}
