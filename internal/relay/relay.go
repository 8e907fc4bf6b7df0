// Package relay provides the bounded queue between the scanning producer and
// the persistence consumer.
//
// A full queue blocks senders, which is the pipeline's backpressure; an empty
// open queue blocks the receiver. Close may be called any number of times and
// from any goroutine. The receiver sees end-of-stream only after every item
// sent before Close has been delivered, in FIFO order.
package relay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("relay closed")

// Queue is a bounded FIFO of T.
type Queue[T any] struct {
	ch chan T

	// mu serializes Close against in-flight sends so the channel is never
	// closed while a sender is blocked on it. Senders hold the read lock.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// New returns a queue holding at most capacity items. capacity < 1 is
// treated as 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), done: make(chan struct{})}
}

// Send enqueues v, blocking while the queue is full. It returns ctx.Err() if
// ctx ends first and ErrClosed if the queue is, or becomes, closed.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Recv dequeues the next item, blocking while the queue is empty and open.
// ok is false once the queue is closed and drained. Recv returns ctx.Err()
// if ctx ends while waiting.
func (q *Queue[T]) Recv(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-q.ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Close marks the end of the stream. Items already enqueued remain
// receivable. Blocked senders are released with ErrClosed.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Len is the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap is the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
