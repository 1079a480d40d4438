// Package queue provides the thread safe double ended queue used to hand
// messages between the network reactor and application goroutines.
package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// Queue is an unbounded, thread safe deque. Every push signals one goroutine
// blocked in Wait.
//
// The zero value is not usable, create queues with New.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items deque.Deque[T]
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Front returns the item at the front without removing it.
func (q *Queue[T]) Front() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return item, false
	}

	return q.items.Front(), true
}

// Back returns the item at the back without removing it.
func (q *Queue[T]) Back() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return item, false
	}

	return q.items.Back(), true
}

// PopFront removes and returns the item at the front.
func (q *Queue[T]) PopFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return item, false
	}

	return q.items.PopFront(), true
}

// PopBack removes and returns the item at the back.
func (q *Queue[T]) PopBack() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return item, false
	}

	return q.items.PopBack(), true
}

// PushFront adds an item at the front and wakes a waiter.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	q.items.PushFront(item)
	q.mu.Unlock()

	q.cond.Signal()
}

// PushBack adds an item at the back and wakes a waiter.
func (q *Queue[T]) PushBack(item T) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()

	q.cond.Signal()
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len()
}

// Clear drops every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.Clear()
}

// Drain pops up to max items from the front in FIFO order. A negative max
// drains the whole queue.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	if max >= 0 && max < n {
		n = max
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.items.PopFront())
	}

	return out
}

// Wait blocks until the queue holds at least one item. There is no timeout.
func (q *Queue[T]) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		q.cond.Wait()
	}
}
