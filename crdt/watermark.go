package crdt

// Watermark is a grow-only maximum. The zero value is ready to use.
type Watermark struct {
	v int64
}

// NewWatermark returns a watermark starting at v.
func NewWatermark(v int64) Watermark { return Watermark{v: v} }

// Observe raises the watermark to v if v is higher. It reports whether the
// value changed.
func (w *Watermark) Observe(v int64) bool {
	if v > w.v {
		w.v = v
		return true
	}
	return false
}

// Merge returns the maximum of both watermarks.
func (w Watermark) Merge(other Watermark) Watermark {
	if other.v > w.v {
		return other
	}
	return w
}

// Value returns the current maximum.
func (w Watermark) Value() int64 { return w.v }
