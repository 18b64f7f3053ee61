// Package queue provides a time-ordered priority queue
package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Item is one queued value
type Item[T any] struct {
	Value T
	At    time.Time // Items come out in ascending At
	Order int       // Breaks ties in At, lower first
	index int
}

// PriorityQueue orders items by time, then by Order, then by insertion
type PriorityQueue[T any] struct {
	items itemHeap[T]
	seq   uint64
	mu    sync.Mutex
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{}
	heap.Init(&pq.items)
	return pq
}

// Push adds an item to the queue
func (pq *PriorityQueue[T]) Push(value T, at time.Time, order int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.seq++
	heap.Push(&pq.items, &entry[T]{
		Item: Item[T]{Value: value, At: at, Order: order},
		seq:  pq.seq,
	})
}

// Pop removes and returns the earliest item
func (pq *PriorityQueue[T]) Pop() (Item[T], bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return Item[T]{}, false
	}
	e := heap.Pop(&pq.items).(*entry[T])
	return e.Item, true
}

// Peek returns the earliest item without removing it
func (pq *PriorityQueue[T]) Peek() (Item[T], bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return Item[T]{}, false
	}
	return pq.items[0].Item, true
}

// PopReady removes and returns the earliest item if it is due at now
func (pq *PriorityQueue[T]) PopReady(now time.Time) (Item[T], bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 || now.Before(pq.items[0].At) {
		return Item[T]{}, false
	}
	e := heap.Pop(&pq.items).(*entry[T])
	return e.Item, true
}

// Len returns the number of items in the queue
func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Clear removes all items
func (pq *PriorityQueue[T]) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.items = nil
}

type entry[T any] struct {
	Item[T]
	seq uint64
}

// itemHeap implements heap.Interface
type itemHeap[T any] []*entry[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.seq < b.seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x interface{}) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *itemHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
