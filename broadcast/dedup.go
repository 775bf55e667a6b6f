package broadcast

import "time"

// Dedup remembers applied event ids for a TTL. It is not safe for
// concurrent use; the scheduling actor owns it.
type Dedup struct {
	ttl  time.Duration
	seen map[string]time.Time
}

// NewDedup creates a dedup set that forgets ids after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen reports whether eventID was recorded within the TTL, recording it
// when it was not.
func (d *Dedup) Seen(eventID string, now time.Time) bool {
	if at, ok := d.seen[eventID]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[eventID] = now
	return false
}

// Contains reports whether eventID was recorded within the TTL without
// recording it.
func (d *Dedup) Contains(eventID string, now time.Time) bool {
	at, ok := d.seen[eventID]
	return ok && now.Sub(at) < d.ttl
}

// Forget drops eventID so a later delivery is applied again.
func (d *Dedup) Forget(eventID string) { delete(d.seen, eventID) }

// Sweep drops ids older than the TTL and returns how many were dropped.
func (d *Dedup) Sweep(now time.Time) int {
	n := 0
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
			n++
		}
	}
	return n
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int { return len(d.seen) }
