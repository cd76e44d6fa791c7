package sequence

// BoundedQueue is a FIFO ring buffer with a fixed capacity. Pushing onto a
// full queue evicts the oldest element. It is not safe for concurrent use;
// callers serialize access themselves.
type BoundedQueue[T any] struct {
	items []T
	head  int
	size  int
}

// NewBoundedQueue returns an empty queue holding at most capacity elements.
// It panics if capacity is not positive.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity <= 0 {
		panic("sequence: bounded queue capacity must be positive")
	}
	return &BoundedQueue[T]{items: make([]T, capacity)}
}

// Push appends value at the tail. When the queue is full the oldest element
// is removed first and returned with evicted set to true.
func (q *BoundedQueue[T]) Push(value T) (old T, evicted bool) {
	if q.size == len(q.items) {
		old, _ = q.Pop()
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = value
	q.size++
	return old, evicted
}

// PushFront puts value back at the head, ahead of everything queued. On a
// full queue the value itself is the oldest element, so it is rejected and
// returned with evicted set to true.
func (q *BoundedQueue[T]) PushFront(value T) (old T, evicted bool) {
	if q.size == len(q.items) {
		return value, true
	}
	q.head = (q.head - 1 + len(q.items)) % len(q.items)
	q.items[q.head] = value
	q.size++
	return old, false
}

// Pop removes and returns the oldest element.
func (q *BoundedQueue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	value := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return value, true
}

// Peek returns the oldest element without removing it.
func (q *BoundedQueue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued elements.
func (q *BoundedQueue[T]) Len() int {
	return q.size
}

// Cap returns the maximum number of elements.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

func (q *BoundedQueue[T]) IsEmpty() bool {
	return q.size == 0
}

// Snapshot copies the queued elements in FIFO order.
func (q *BoundedQueue[T]) Snapshot() []T {
	out := make([]T, q.size)
	for i := range out {
		out[i] = q.items[(q.head+i)%len(q.items)]
	}
	return out
}

// Clear drops every element and returns how many were removed.
func (q *BoundedQueue[T]) Clear() int {
	n := q.size
	var zero T
	for i := 0; i < q.size; i++ {
		q.items[(q.head+i)%len(q.items)] = zero
	}
	q.head = 0
	q.size = 0
	return n
}
