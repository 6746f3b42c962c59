// Package history implements the fixed-capacity rolling log of recent
// action outcomes scanned by the pacemaker's anomaly checks. The log is a
// ring buffer: appends are O(1) and the oldest entry is evicted first.
package history

import "time"

// DefaultCapacity is the number of entries retained.
const DefaultCapacity = 20

// Entry records the outcome of one executed action.
type Entry struct {
	// ActionName is the tool name that ran.
	ActionName string

	// Signature is the canonical (name, parameters) identity, used for
	// stagnation detection.
	Signature string

	// Result is the truncated result summary.
	Result string

	// IsError marks a genuine tool-execution failure. Denials are stored
	// with IsError=false so they never feed the error-cascade check.
	IsError bool

	// At is when the outcome was recorded.
	At time.Time
}

// Ring is a fixed-capacity FIFO of entries.
type Ring struct {
	buf   []Entry
	start int
	count int
}

// NewRing creates a ring with the given capacity (DefaultCapacity if <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// Append adds an entry, evicting the oldest when full.
func (r *Ring) Append(e Entry) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	return r.count
}

// Capacity returns the maximum number of entries.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Last returns up to n most recent entries in chronological order
// (oldest of the window first).
func (r *Ring) Last(n int) []Entry {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	first := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

// All returns every stored entry in chronological order.
func (r *Ring) All() []Entry {
	return r.Last(r.count)
}

// ErrorsInLast counts error entries among the n most recent.
func (r *Ring) ErrorsInLast(n int) int {
	errors := 0
	for _, e := range r.Last(n) {
		if e.IsError {
			errors++
		}
	}
	return errors
}

// Clear removes all entries.
func (r *Ring) Clear() {
	r.start = 0
	r.count = 0
}
