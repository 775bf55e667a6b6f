package queue

import (
	"container/heap"
	"time"

	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
)

// Entry is a pending trigger. Split is set when only one range of a
// sharded run is being retried.
type Entry struct {
	RunID    id.RunID
	Bucket   int
	At       time.Time
	Priority int
	Split    *crdt.Range
}

type entryKey struct {
	run   id.RunID
	split bool
	start int64
}

func (e Entry) key() entryKey {
	if e.Split == nil {
		return entryKey{run: e.RunID}
	}
	return entryKey{run: e.RunID, split: true, start: e.Split.Start}
}

type item struct {
	Entry
	index int
}

type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.RunID != b.RunID {
		return a.RunID < b.RunID
	}
	return splitStart(a.Split) < splitStart(b.Split)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item) //nolint:errcheck // heap only receives *item
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

func splitStart(r *crdt.Range) int64 {
	if r == nil {
		return -1
	}
	return r.Start
}

// TriggerQueue is a min-heap of pending entries keyed by run id and split.
// Pushing an entry whose key is already queued reschedules it.
type TriggerQueue struct {
	h     entryHeap
	items map[entryKey]*item
	byRun map[id.RunID]int
}

// NewTriggerQueue creates an empty queue.
func NewTriggerQueue() *TriggerQueue {
	return &TriggerQueue{
		items: make(map[entryKey]*item),
		byRun: make(map[id.RunID]int),
	}
}

// Push queues e, replacing any entry with the same run id and split.
func (q *TriggerQueue) Push(e Entry) {
	k := e.key()
	if it, ok := q.items[k]; ok {
		it.Entry = e
		heap.Fix(&q.h, it.index)
		return
	}
	it := &item{Entry: e}
	heap.Push(&q.h, it)
	q.items[k] = it
	q.byRun[e.RunID]++
}

// PopDue removes and returns every entry with At <= now in queue order.
func (q *TriggerQueue) PopDue(now time.Time) []Entry {
	var out []Entry
	for q.h.Len() > 0 && !q.h[0].At.After(now) {
		it := heap.Pop(&q.h).(*item) //nolint:errcheck // heap only holds *item
		q.forget(it)
		out = append(out, it.Entry)
	}
	return out
}

// Remove drops every entry of runID, including split retries. It reports
// how many were removed.
func (q *TriggerQueue) Remove(runID id.RunID) int {
	if q.byRun[runID] == 0 {
		return 0
	}
	return q.removeWhere(func(e Entry) bool { return e.RunID == runID })
}

// RemoveBucket drops every entry of bucket.
func (q *TriggerQueue) RemoveBucket(bucket int) int {
	return q.removeWhere(func(e Entry) bool { return e.Bucket == bucket })
}

func (q *TriggerQueue) removeWhere(match func(Entry) bool) int {
	var victims []*item
	for _, it := range q.h {
		if match(it.Entry) {
			victims = append(victims, it)
		}
	}
	for _, it := range victims {
		heap.Remove(&q.h, it.index)
		q.forget(it)
	}
	return len(victims)
}

func (q *TriggerQueue) forget(it *item) {
	delete(q.items, it.key())
	q.byRun[it.RunID]--
	if q.byRun[it.RunID] <= 0 {
		delete(q.byRun, it.RunID)
	}
}

// Contains reports whether any entry of runID is queued.
func (q *TriggerQueue) Contains(runID id.RunID) bool { return q.byRun[runID] > 0 }

// Len returns the number of queued entries.
func (q *TriggerQueue) Len() int { return q.h.Len() }

// Next returns the earliest trigger time.
func (q *TriggerQueue) Next() (time.Time, bool) {
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h[0].At, true
}
