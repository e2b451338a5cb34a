// Package queue provides a value-based binary heap.
package queue

// Heap is a binary heap ordered by less: the item for which less reports
// true against every other item is on top.
//
// Items are stored by value for cache locality. A Heap is not safe for
// concurrent use.
type Heap[T any] struct {
	less  func(a, b T) bool
	items []T
}

// New creates an empty heap with the given ordering.
func New[T any](less func(a, b T) bool, capacity int) *Heap[T] {
	return &Heap[T]{
		less:  less,
		items: make([]T, 0, capacity),
	}
}

// Len returns the number of items.
func (h *Heap[T]) Len() int { return len(h.items) }

// Reset removes all items, keeping the allocation.
func (h *Heap[T]) Reset() {
	clear(h.items)
	h.items = h.items[:0]
}

// Peek returns the top item.
func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the top item.
func (h *Heap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items)
	if n == 0 {
		return zero, false
	}
	root := h.items[0]
	last := h.items[n-1]
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	if n-1 > 0 {
		h.items[0] = last
		h.siftDown(0)
	}
	return root, true
}

func (h *Heap[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *Heap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.less(h.items[r], h.items[l]) {
			best = r
		}
		if !h.less(h.items[best], h.items[i]) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}
