// Package dependency tracks parent/child relationships between job runs of
// the same workflow run and decides when a run is eligible.
//
// A run is eligible when every parent run has status SUCCESS. A parent that
// is not loaded yet makes the run not-yet-eligible; this is not an error
// and the run is re-checked on the next tick or parent completion.
//
// A Tracker is owned by the scheduling actor and is not safe for
// concurrent use.
package dependency

import (
	"slices"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// Lookup resolves the current status of a run. ok is false when the run
// is not known to the caller.
type Lookup func(runID id.RunID) (status job.Status, ok bool)

// Tracker indexes runs by parent so completions can find their dependents.
type Tracker struct {
	children map[id.RunID][]id.RunID
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{children: make(map[id.RunID][]id.RunID)}
}

// HasDependencies reports whether r waits on any parent.
func (t *Tracker) HasDependencies(r *job.Run) bool { return len(r.Parents) > 0 }

// IsEligible reports whether every parent of r has succeeded.
func (t *Tracker) IsEligible(r *job.Run, lookup Lookup) bool {
	for _, p := range r.Parents {
		s, ok := lookup(p)
		if !ok || s != job.StatusSuccess {
			return false
		}
	}
	return true
}

// Blocked reports whether some known parent of r ended in a failed
// terminal state, so r can never become eligible.
func (t *Tracker) Blocked(r *job.Run, lookup Lookup) bool {
	for _, p := range r.Parents {
		if s, ok := lookup(p); ok && s.Failed() {
			return true
		}
	}
	return false
}

// Track indexes r under each of its parents. Tracking twice is a no-op.
func (t *Tracker) Track(r *job.Run) {
	for _, p := range r.Parents {
		if !slices.Contains(t.children[p], r.ID) {
			t.children[p] = append(t.children[p], r.ID)
		}
	}
}

// Forget removes r from the index, both as a child and as a parent.
func (t *Tracker) Forget(r *job.Run) {
	for _, p := range r.Parents {
		kids := slices.DeleteFunc(t.children[p], func(c id.RunID) bool { return c == r.ID })
		if len(kids) == 0 {
			delete(t.children, p)
		} else {
			t.children[p] = kids
		}
	}
	delete(t.children, r.ID)
}

// Dependents returns the direct children of runID.
func (t *Tracker) Dependents(runID id.RunID) []id.RunID {
	return slices.Clone(t.children[runID])
}

// Descendants returns every run transitively depending on runID, nearest
// first, each once.
func (t *Tracker) Descendants(runID id.RunID) []id.RunID {
	seen := map[id.RunID]bool{runID: true}
	var out []id.RunID
	frontier := []id.RunID{runID}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, c := range t.children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			frontier = append(frontier, c)
		}
	}
	return out
}

// Len returns the number of parents with tracked dependents.
func (t *Tracker) Len() int { return len(t.children) }
