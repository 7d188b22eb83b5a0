package proxy

import "sync"

// Cursor is a read position in a Ring: the number of entries ever written
// when it was taken.
type Cursor int64

// Ring is a fixed-capacity FIFO buffer; the oldest entry is evicted when full.
type Ring[T any] struct {
	mu sync.RWMutex

	entries  []T
	capacity int

	total int64
	head  int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Ring[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

func (r *Ring[T]) Push(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
	} else {
		r.entries[r.head] = entry
	}
	r.head = (r.head + 1) % r.capacity
	r.total++
}

// All returns the buffered entries, oldest first.
func (r *Ring[T]) All() []T {
	out, _ := r.ReadFrom(0)
	return out
}

// ReadFrom returns the entries written after cursor. An evicted cursor reads
// from the oldest entry still held.
func (r *Ring[T]) ReadFrom(cursor Cursor) ([]T, Cursor) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := int64(len(r.entries))
	if n == 0 {
		return nil, Cursor(r.total)
	}
	start := int64(cursor)
	if oldest := r.total - n; start < oldest {
		start = oldest
	}
	available := r.total - start
	if available <= 0 {
		return nil, Cursor(r.total)
	}

	// oldest entry sits at head once the buffer has wrapped
	first := 0
	if n == int64(r.capacity) {
		first = r.head
	}
	skip := n - available
	out := make([]T, 0, available)
	for i := skip; i < n; i++ {
		out = append(out, r.entries[(int64(first)+i)%n])
	}
	return out, Cursor(r.total)
}

func (r *Ring[T]) Capacity() int { return r.capacity }
