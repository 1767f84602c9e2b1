package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a thread-safe FIFO ring buffer. It doubles its capacity when it
// reaches 70% full. With a limit set, growth stops at the limit and a push into
// a full queue evicts the oldest item.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	count  int
	limit  int // 0 = unbounded
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	grows   int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Grows    int
}

// NewQueue creates a queue with the given initial capacity and limit.
// A limit of 0 lets the queue grow without bound.
func NewQueue[T any](capacity, limit int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if limit > 0 && capacity > limit {
		capacity = limit
	}
	q := &Queue[T]{
		items: make([]T, capacity),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (len(q.items) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	if q.count == len(q.items) {
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.count--
		q.dropped++
	}

	q.items[(q.head+q.count)%len(q.items)] = item
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. It returns
// ErrQueueClosed once the queue is closed and empty, or ctx.Err() if ctx ends
// first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		q.cond.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, ErrQueueClosed
	}
	return q.take(), nil
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// PopBatch removes up to max items (all of them if max <= 0) without blocking.
func (q *Queue[T]) PopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.take()
	}
	return out
}

// Close stops the queue accepting items and wakes blocked readers. Items
// already queued can still be read.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.items),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Grows:    q.grows,
	}
}

// take removes the head item. Must be called with mu held and count > 0.
func (q *Queue[T]) take() T {
	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.popped++
	return item
}

// grow doubles the capacity, capped at the limit. Must be called with mu held.
func (q *Queue[T]) grow() {
	size := len(q.items) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.items) {
		return
	}

	items := make([]T, size)
	if q.count > 0 {
		n := copy(items, q.items[q.head:min(q.head+q.count, len(q.items))])
		copy(items[n:], q.items[:q.count-n])
	}

	q.items = items
	q.head = 0
	q.grows++
}
