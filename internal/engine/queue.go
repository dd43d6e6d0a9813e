// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"container/heap"
	"sync"
	"time"

	"grimm.is/rfw/internal/rule"
)

// commandQueue is an unbounded FIFO, the Go equivalent of the single
// blocking-get/non-blocking-put queue the command worker consumes from.
type commandQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Command
	closed bool
}

func newCommandQueue() *commandQueue {
	q := &commandQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues c without blocking.
func (q *commandQueue) Put(c Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, c)
	q.cond.Signal()
}

// Get blocks until a command is available or the queue is closed, in which
// case ok is false.
func (q *commandQueue) Get() (c Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Command{}, false
	}
	c, q.items = q.items[0], q.items[1:]
	return c, true
}

func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// expiryItem is one entry of the expiry priority queue: the rule expires at
// tstamp, having been inserted with the given directive-supplied (or
// default) expire duration in seconds.
type expiryItem struct {
	tstamp time.Time
	expire int
	rule   rule.Rule
}

// expiryHeap orders items by soonest expiry first.
type expiryHeap []expiryItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].tstamp.Before(h[j].tstamp) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// expiryQueue wraps expiryHeap with the synchronization Go's memory model
// requires for cross-goroutine visibility. The command worker is the only
// producer (Schedule) and the expiry worker is the only consumer (Peek/Pop),
// so contention never happens in practice — the lock exists for
// correctness, not throughput.
type expiryQueue struct {
	mu sync.Mutex
	h  expiryHeap
}

func newExpiryQueue() *expiryQueue {
	q := &expiryQueue{}
	heap.Init(&q.h)
	return q
}

func (q *expiryQueue) Schedule(item expiryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, item)
}

// Peek returns the soonest-expiring item without removing it.
func (q *expiryQueue) Peek() (expiryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return expiryItem{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the soonest-expiring item. It may differ from the
// item last returned by Peek (another, even-sooner item may have been
// scheduled meanwhile), but it is guaranteed to be at least as due.
func (q *expiryQueue) Pop() (expiryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return expiryItem{}, false
	}
	return heap.Pop(&q.h).(expiryItem), true
}

func (q *expiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
