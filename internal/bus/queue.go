package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"main/pkg/exception"
)

// Queue is a bounded, ordered queue connecting two pipeline stages.
// Publish blocks when the queue is full so upstream producers observe
// backpressure instead of dropping items.
type Queue[T any] struct {
	ch     chan T
	closed uint32

	evictMu sync.Mutex
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Publish enqueues an item, blocking while the queue is full.
func (q *Queue[T]) Publish(ctx context.Context, item T) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(item T) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// PublishEvict enqueues an item, evicting the oldest entry when full.
// It returns the evicted item, if any. Used only by the inbound raw-signal
// buffer, which is allowed to shed stale messages.
func (q *Queue[T]) PublishEvict(item T) (evicted T, didEvict bool, err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		err = exception.ErrQueueClosed
		return
	}
	q.evictMu.Lock()
	defer q.evictMu.Unlock()
	for {
		select {
		case q.ch <- item:
			return
		default:
		}
		select {
		case evicted = <-q.ch:
			didEvict = true
		default:
		}
		select {
		case q.ch <- item:
			return
		default:
		}
	}
}

// Receive dequeues the next item, blocking until one is available,
// the queue is closed and drained, or the context is done.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, exception.ErrQueueClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new items. Buffered items remain
// readable until drained.
func (q *Queue[T]) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes items until the context is done or the queue is drained
// after close.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			handler(item)
		}
	}
}
