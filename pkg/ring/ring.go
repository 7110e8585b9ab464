// Package ring provides a fixed-capacity circular buffer.
//
// Used for the whale tracker's recent-trade window, per-market price history
// in strategy contexts, and the swarm's balance cache. Appending beyond
// capacity overwrites the oldest element; the buffer never grows.
package ring

// Buffer is a fixed-capacity ring. Not safe for concurrent use; callers
// guard it with their own mutex.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New creates a buffer holding at most capacity elements. Capacity must be
// positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Snapshot returns the elements oldest-first as a fresh slice.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// SnapshotNewest returns the elements newest-first as a fresh slice,
// truncated to limit when limit > 0.
func (b *Buffer[T]) SnapshotNewest(limit int) []T {
	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+b.size-1-i+len(b.items)*2)%len(b.items)]
	}
	return out
}

// Last returns the most recently pushed element, or false when empty.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}
