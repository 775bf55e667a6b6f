package crdt

// ShardProgress tracks completion of a sharded run over its declared Total
// range. Done only grows; completion is reached when Done covers Total.
type ShardProgress struct {
	Total    Range
	Done     RangeSet
	Attempts map[Range]int
}

// NewShardProgress creates progress for [0, total).
func NewShardProgress(total int64) *ShardProgress {
	return &ShardProgress{
		Total:    Range{Start: 0, End: total},
		Attempts: make(map[Range]int),
	}
}

// Complete records r as done. It reports true exactly once: on the call
// that makes Done cover Total for the first time.
func (p *ShardProgress) Complete(r Range) bool {
	before := p.Finished()
	p.Done.Add(Range{Start: max(r.Start, p.Total.Start), End: min(r.End, p.Total.End)})
	return !before && p.Finished()
}

// MergeDone unions a remotely observed set into Done with the same
// exactly-once completion signal as Complete.
func (p *ShardProgress) MergeDone(other RangeSet) bool {
	before := p.Finished()
	for _, r := range other.Ranges() {
		p.Done.Add(Range{Start: max(r.Start, p.Total.Start), End: min(r.End, p.Total.End)})
	}
	return !before && p.Finished()
}

// Finished reports whether every element of Total has completed.
func (p *ShardProgress) Finished() bool { return p.Done.Covers(p.Total) }

// Attempt increments and returns the retry count of r.
func (p *ShardProgress) Attempt(r Range) int {
	if p.Attempts == nil {
		p.Attempts = make(map[Range]int)
	}
	p.Attempts[r]++
	return p.Attempts[r]
}

// Pending returns the ranges of Split(n) that are not yet done.
func (p *ShardProgress) Pending(n int) []Range {
	var out []Range
	for _, r := range Split(p.Total, n) {
		if !p.Done.Covers(r) {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy.
func (p *ShardProgress) Clone() *ShardProgress {
	if p == nil {
		return nil
	}
	c := &ShardProgress{
		Total:    p.Total,
		Done:     RangeSet{ranges: p.Done.Ranges()},
		Attempts: make(map[Range]int, len(p.Attempts)),
	}
	for k, v := range p.Attempts {
		c.Attempts[k] = v
	}
	return c
}

// Split divides total into at most n contiguous, near-equal ranges. The
// first total%n ranges are one element longer.
func Split(total Range, n int) []Range {
	size := total.Len()
	if size == 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if int64(n) > size {
		n = int(size)
	}
	step, rem := size/int64(n), size%int64(n)
	out := make([]Range, 0, n)
	start := total.Start
	for i := range int64(n) {
		end := start + step
		if i < rem {
			end++
		}
		out = append(out, Range{Start: start, End: end})
		start = end
	}
	return out
}
