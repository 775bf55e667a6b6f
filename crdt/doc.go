// Package crdt provides the convergent state replicated between scheduling
// nodes: a max-merged Watermark over catalog sequence numbers and a
// union-merged RangeSet of completed shard ranges.
//
// Every Merge in this package is commutative, associative and idempotent,
// so state converges regardless of delivery order or duplication:
//
//	merge(a, b)           == merge(b, a)
//	merge(merge(a, b), c) == merge(a, merge(b, c))
//	merge(merge(a, b), b) == merge(a, b)
package crdt
