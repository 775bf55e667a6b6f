package id

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
)

// RunID identifies a job run or a workflow run. Values are positive.
type RunID int64

// String returns the decimal form.
func (r RunID) String() string { return strconv.FormatInt(int64(r), 10) }

// ParseRunID parses the decimal form of a run id.
func ParseRunID(s string) (RunID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("id: invalid run id %q", s)
	}
	return RunID(v), nil
}

// Derive maps a broadcast event id and an entity id to a run id. Every node
// that sees the same event computes the same ids without talking to any
// other node.
//
// The derivation is fixed byte for byte: SHA-256 over the UTF-8 bytes of
// eventID + ":" + entityID, the first eight digest bytes read big-endian,
// the sign bit cleared. A zero result becomes 1 so that zero keeps meaning
// "no run".
func Derive(eventID, entityID string) RunID {
	sum := sha256.Sum256([]byte(eventID + ":" + entityID))
	v := binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63)
	if v == 0 {
		v = 1
	}
	return RunID(v)
}

// WorkflowRunEntity is the entity id of the workflow run a trigger creates.
func WorkflowRunEntity(workflowID int64) string {
	return "workflow:" + strconv.FormatInt(workflowID, 10)
}

// JobRunEntity is the entity id of a job run created by a trigger.
func JobRunEntity(jobID int64) string {
	return "job:" + strconv.FormatInt(jobID, 10)
}

// RerunEntity is the entity id of the run that replaces an earlier job run.
func RerunEntity(previous RunID) string {
	return "rerun:" + previous.String()
}
