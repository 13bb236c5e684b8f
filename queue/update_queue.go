// Package queue implements the unbounded, multi-producer/single-consumer
// FIFO of pending NodePropertyUpdates that sits between committer
// threads and a PopulationJob.
//
// It is grounded on secondary/indexer/queue.go's rotating-buffer Queue:
// the same non-blocking-enqueue / signal-channel-on-empty shape, minus
// the fixed-size ring buffer. This queue must never apply backpressure
// to committers, so unlike that ring buffer, Enqueue here never blocks
// regardless of how far the consumer has fallen behind; the
// corresponding memory-exhaustion risk is a deliberate, documented
// design choice, not an oversight.
package queue

import (
	"sync"

	"github.com/sydefz/graphkernel/common"
)

type node struct {
	update common.NodePropertyUpdate
	next   *node
}

// UpdateQueue is an unbounded FIFO. The zero value is not usable; use
// New.
type UpdateQueue struct {
	mu         sync.Mutex
	head, tail *node
	count      int64

	// notifyCh mirrors the indexer's enqch: a 1-buffered channel the
	// consumer can select on to wake up after an Enqueue, without
	// busy-waiting. Every Enqueue attempts a non-blocking send, so
	// signals arriving while one is already pending are coalesced.
	notifyCh chan struct{}

	closed    bool
	enqCount  int64
	deqCount  int64
}

func New() *UpdateQueue {
	return &UpdateQueue{
		notifyCh: make(chan struct{}, 1),
	}
}

// Enqueue appends update to the tail. It never blocks and never fails.
// The update must be visible to the consumer before the enqueuing
// transaction's commit acknowledgement returns, which holds here because
// the node is linked in under the lock before Enqueue returns.
func (q *UpdateQueue) Enqueue(update common.NodePropertyUpdate) {
	n := &node{update: update}

	q.mu.Lock()
	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.count++
	q.enqCount++
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// DrainWhile removes the longest FIFO-order prefix of queued updates for
// which predicate returns true, calling apply on each in order, stopping
// at the first update predicate rejects (which is left in the queue,
// unconsumed), when the queue runs dry, or once maxBatch updates have
// been applied (maxBatch <= 0 means unbounded). It returns the number of
// updates applied and the first error apply returns, if any; draining
// stops immediately on error, leaving the failing update consumed (the
// caller is expected to be failing the whole population in that case).
//
// This is used both for the scan-time "drain up to frontier" interleave,
// where maxBatch bounds how much one visit call can fall behind on, and,
// with an always-true predicate, for the flip-time terminal drain, which
// calls it in a loop until the queue is empty.
func (q *UpdateQueue) DrainWhile(predicate func(common.NodePropertyUpdate) bool, apply func(common.NodePropertyUpdate) error, maxBatch int) (int, error) {
	applied := 0
	for maxBatch <= 0 || applied < maxBatch {
		q.mu.Lock()
		if q.head == nil {
			q.mu.Unlock()
			return applied, nil
		}
		if !predicate(q.head.update) {
			q.mu.Unlock()
			return applied, nil
		}
		n := q.head
		q.head = n.next
		if q.head == nil {
			q.tail = nil
		}
		q.count--
		q.deqCount++
		q.mu.Unlock()

		if err := apply(n.update); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Len reports the number of updates currently queued.
func (q *UpdateQueue) Len() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// NotifyChannel returns the channel a consumer can select on to be woken
// when an update is enqueued. A receive does not guarantee the queue is
// still non-empty (another consumer goroutine may have drained it first)
// -- callers must re-check via DrainWhile/Len, same contract as the
// teacher's enqch.
func (q *UpdateQueue) NotifyChannel() <-chan struct{} {
	return q.notifyCh
}

// Close marks the queue closed for statistics purposes. It does not
// reject further Enqueue calls: the queue intentionally has no shutdown
// barrier of its own, since ordering and lifetime are the proxy's and
// job's responsibility.
func (q *UpdateQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *UpdateQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *UpdateQueue) Counts() (enq, deq int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqCount, q.deqCount
}
