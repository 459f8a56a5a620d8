// Package ringbuf provides a fixed-capacity ring of model.Candle that evicts
// the oldest entry when full. It is not safe for concurrent use; callers that
// share a Ring must hold their own lock.
package ringbuf

import "signal-enginev1/internal/model"

// Ring holds the most recent Cap() candles in insertion order.
type Ring struct {
	buf  []model.Candle
	head int // index of the oldest element
	size int
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Push appends a candle. When the ring is full the oldest candle is dropped.
// Returns true if an eviction happened.
func (r *Ring) Push(c model.Candle) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = c
		r.size++
		return false
	}

	// Full: overwrite oldest and advance head
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Last returns the newest candle.
func (r *Ring) Last() (model.Candle, bool) {
	if r.size == 0 {
		return model.Candle{}, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// ReplaceLast overwrites the newest candle. Used when an exchange re-sends
// the still-forming bar with the same open time.
func (r *Ring) ReplaceLast(c model.Candle) bool {
	if r.size == 0 {
		return false
	}
	r.buf[(r.head+r.size-1)%len(r.buf)] = c
	return true
}

// Slice copies the contents out, oldest first.
func (r *Ring) Slice() []model.Candle {
	out := make([]model.Candle, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the current number of items in the ring.
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
