package sequence

import "iter"

// Ring is a bounded FIFO that overwrites its oldest element when full.
// It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates a ring holding at most capacity elements. Capacities
// below 1 are raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.items) }

func (r *Ring[T]) Full() bool { return r.size == len(r.items) }

// Push appends v, evicting the oldest element when the ring is full. The
// evicted element is returned with ok set.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size == len(r.items) {
		evicted, ok = r.items[r.head], true
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return evicted, ok
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return evicted, false
}

// At returns the i-th element counting from the oldest.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("sequence: ring index out of range")
	}
	return r.items[(r.head+i)%len(r.items)]
}

// Newest returns the last pushed element.
func (r *Ring[T]) Newest() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.size - 1), true
}

// All yields the elements from oldest to newest.
func (r *Ring[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < r.size; i++ {
			if !yield(i, r.At(i)) {
				return
			}
		}
	}
}
