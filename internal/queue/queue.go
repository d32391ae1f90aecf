// Package queue provides a bounded blocking queue with an optional sort order.
package queue

import (
	"errors"
	"sync"
)

var (
	// ErrCapacityExceeded is returned by TryPush on a full bounded queue.
	ErrCapacityExceeded = errors.New("queue: capacity exceeded")
	// ErrEmpty is returned by TryPop on an empty queue.
	ErrEmpty = errors.New("queue: empty")
	// ErrClosed is returned once Shutdown has been called and no element is left to hand out.
	ErrClosed = errors.New("queue: closed")
	// ErrInvalidPosition is returned by Peek for a position past the tail.
	ErrInvalidPosition = errors.New("queue: invalid position")
	// ErrNotFound is returned by PopMatch when nothing matches.
	ErrNotFound = errors.New("queue: no matching element")
)

// Order selects how a comparator sorts the queue.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithCapacity bounds the queue. Zero or a negative value means unbounded.
func WithCapacity[T any](n int) Option[T] {
	return func(q *Queue[T]) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithOrder keeps elements sorted by cmp instead of arrival order.
// Elements that compare equal stay in arrival order.
func WithOrder[T any](cmp func(a, b T) int, order Order) Option[T] {
	return func(q *Queue[T]) {
		q.cmp = cmp
		q.order = order
	}
}

// Queue is safe for any number of producers and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	capacity int
	closed   bool

	cmp   func(a, b T) int
	order Order
}

// New creates an empty queue.
func New[T any](opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{}
	for _, opt := range opts {
		opt(q)
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends item, blocking while a bounded queue is full.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.full() {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.insert(item)
	return nil
}

// TryPush appends item without blocking.
func (q *Queue[T]) TryPush(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.full() {
		return ErrCapacityExceeded
	}
	q.insert(item)
	return nil
}

// Pop removes the head, blocking until an element arrives or the queue is shut down.
// Elements queued before Shutdown are still handed out.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, ErrClosed
	}
	return q.removeAt(0), nil
}

// TryPop removes the head without blocking.
func (q *Queue[T]) TryPop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return q.removeAt(0), nil
}

// PopMatch removes the first element for which match returns true.
func (q *Queue[T]) PopMatch(match func(T) bool) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if match(item) {
			return q.removeAt(i), nil
		}
	}
	var zero T
	return zero, ErrNotFound
}

// Peek returns the element at pos without removing it. Position 0 is the head.
func (q *Queue[T]) Peek(pos int) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pos < 0 || pos >= len(q.items) {
		var zero T
		return zero, ErrInvalidPosition
	}
	return q.items[pos], nil
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no element.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Shutdown stops accepting data and wakes every blocked pusher and popper.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Reopen accepts data again after Shutdown.
func (q *Queue[T]) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Closed reports whether Shutdown has been called since the last Reopen.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes every element in queue order and hands each to fn.
// fn runs without the queue lock held, so it may call back into the queue.
func (q *Queue[T]) Drain(fn func(T)) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	q.notFull.Broadcast()

	if fn != nil {
		for _, item := range items {
			fn(item)
		}
	}
	return len(items)
}

func (q *Queue[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// insert must be called with q.mu held.
func (q *Queue[T]) insert(item T) {
	pos := len(q.items)
	if q.cmp != nil {
		pos = q.insertPos(item)
	}
	var zero T
	q.items = append(q.items, zero)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
	q.notEmpty.Signal()
}

// insertPos finds the slot after every element that sorts before or equal to item.
func (q *Queue[T]) insertPos(item T) int {
	for i := len(q.items); i > 0; i-- {
		c := q.cmp(q.items[i-1], item)
		if q.order == Descending {
			c = -c
		}
		if c <= 0 {
			return i
		}
	}
	return 0
}

// removeAt must be called with q.mu held.
func (q *Queue[T]) removeAt(i int) T {
	item := q.items[i]
	var zero T
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = zero
	q.items = q.items[:len(q.items)-1]
	q.notFull.Signal()
	return item
}
