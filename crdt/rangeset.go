package crdt

import (
	"fmt"
	"slices"
	"strings"
)

// Range is a half-open interval [Start, End).
type Range struct {
	Start int64 `json:"start" msgpack:"start"`
	End   int64 `json:"end"   msgpack:"end"`
}

// Empty reports whether the range holds no elements.
func (r Range) Empty() bool { return r.End <= r.Start }

// Len returns the number of elements in the range.
func (r Range) Len() int64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return o.Empty() || (r.Start <= o.Start && o.End <= r.End)
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// RangeSet is a union of half-open ranges kept sorted, disjoint and
// coalesced, so two sets holding the same elements are structurally equal.
// The zero value is an empty set.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet builds a set from arbitrary, possibly overlapping ranges.
func NewRangeSet(rs ...Range) RangeSet {
	var s RangeSet
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

// Add inserts r into the set. It reports whether the set grew.
func (s *RangeSet) Add(r Range) bool {
	if r.Empty() || s.Covers(r) {
		return false
	}
	out := make([]Range, 0, len(s.ranges)+1)
	inserted := false
	for _, cur := range s.ranges {
		switch {
		case cur.End < r.Start:
			out = append(out, cur)
		case r.End < cur.Start:
			if !inserted {
				out = append(out, r)
				inserted = true
			}
			out = append(out, cur)
		default:
			// Overlapping or adjacent: absorb into r.
			r.Start = min(r.Start, cur.Start)
			r.End = max(r.End, cur.End)
		}
	}
	if !inserted {
		out = append(out, r)
	}
	s.ranges = out
	return true
}

// Merge returns the union of both sets. Neither input is modified.
func (s RangeSet) Merge(other RangeSet) RangeSet {
	out := RangeSet{ranges: slices.Clone(s.ranges)}
	for _, r := range other.ranges {
		out.Add(r)
	}
	return out
}

// Covers reports whether every element of r is in the set.
func (s RangeSet) Covers(r Range) bool {
	if r.Empty() {
		return true
	}
	for _, cur := range s.ranges {
		if cur.Contains(r) {
			return true
		}
	}
	return false
}

// Ranges returns a copy of the normalized ranges.
func (s RangeSet) Ranges() []Range { return slices.Clone(s.ranges) }

// Len returns the number of elements covered by the set.
func (s RangeSet) Len() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Equal reports whether both sets hold the same elements.
func (s RangeSet) Equal(other RangeSet) bool {
	return slices.Equal(s.ranges, other.ranges)
}

func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}
