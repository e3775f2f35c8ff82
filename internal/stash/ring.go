package stash

// Ring is a FIFO of at most capacity items; pushing onto a full ring drops
// the oldest. A capacity <= 0 never drops on push.
type Ring[T any] struct {
	items    []T
	capacity int
}

// NewRing returns an empty ring.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{capacity: capacity}
}

// Push appends v, evicting from the front while over capacity.
func (r *Ring[T]) Push(v T) {
	r.items = append(r.items, v)
	if r.capacity > 0 {
		for len(r.items) > r.capacity {
			r.PopFront()
		}
	}
}

// Front returns the oldest item.
func (r *Ring[T]) Front() (T, bool) {
	if len(r.items) == 0 {
		var zero T
		return zero, false
	}
	return r.items[0], true
}

// PopFront removes the oldest item.
func (r *Ring[T]) PopFront() {
	if len(r.items) == 0 {
		return
	}
	var zero T
	r.items[0] = zero
	r.items = r.items[1:]
}

// Len returns the number of held items.
func (r *Ring[T]) Len() int { return len(r.items) }

// Clear drops every item.
func (r *Ring[T]) Clear() { r.items = nil }

// Items returns the held items oldest first. The slice is a copy.
func (r *Ring[T]) Items() []T {
	return append([]T(nil), r.items...)
}

// Each calls fn on every item, oldest first.
func (r *Ring[T]) Each(fn func(T)) {
	for _, v := range r.items {
		fn(v)
	}
}
