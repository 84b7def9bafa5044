package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO with drop-oldest-on-overflow semantics. Push never
// blocks: when the queue is full the oldest unsent item is evicted and the
// drop counter incremented, so loss is always signalled. Channels cannot
// evict their oldest element atomically, hence the ring buffer.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	count   int
	dropped *atomic.Int64
	notify  chan struct{}
	closed  bool
}

func NewQueue[T any](capacity int, dropped *atomic.Int64) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:   make([]T, capacity),
		dropped: dropped,
		notify:  make(chan struct{}, 1),
	}
}

// Push enqueues v, evicting the oldest queued item when full.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.count == len(q.items) {
		q.head = (q.head + 1) % len(q.items)
		q.count--
		if q.dropped != nil {
			q.dropped.Add(1)
		}
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop dequeues without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return v, true
}

// Pop blocks until an item is available, the queue is closed and drained, or
// the context ends.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, false
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting new items; queued items remain poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
