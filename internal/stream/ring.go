// Package stream is the continuous scanner: four independently paced loops
// over shared ring buffers, with confluence queries on top.
package stream

import "sync"

// Ring is a fixed-capacity overwrite-oldest buffer, safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[(r.head+r.count)%len(r.buf)] = v
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Items returns a snapshot, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the most recent entry.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// Len returns the current entry count.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }
