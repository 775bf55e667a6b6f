package bucket

import "slices"

// Of returns the bucket of id in a keyspace of count buckets.
func Of(id int64, count int) int {
	if count <= 0 {
		return 0
	}
	b := id % int64(count)
	if b < 0 {
		b += int64(count)
	}
	return int(b)
}

// Listener is notified of ownership changes. Calls are made from the
// manager's goroutine and should return quickly.
type Listener interface {
	BucketAcquired(bucket int)
	BucketLost(bucket int)
}

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	OnAcquired func(bucket int)
	OnLost     func(bucket int)
}

func (f ListenerFuncs) BucketAcquired(bucket int) {
	if f.OnAcquired != nil {
		f.OnAcquired(bucket)
	}
}

func (f ListenerFuncs) BucketLost(bucket int) {
	if f.OnLost != nil {
		f.OnLost(bucket)
	}
}

// FairShare returns how many buckets each of live nodes should hold.
func FairShare(count, live int) int {
	if live <= 0 {
		live = 1
	}
	return (count + live - 1) / live
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}
