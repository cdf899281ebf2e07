// Package relay holds the statistics received from peers and computes, for
// each peer, the increments learned by the other peers since its last
// request.
//
// The receive queue is written only under the coordinator lock but is read
// without it. A reader captures the queue age before scanning and checks
// it, together with the slot pointer, before trusting any buffer. Clear
// bumps the age at every new move; a recycled buffer is dropped from its
// slot immediately.
package relay

import (
	"errors"
	"sync/atomic"

	"mcdist/internal/stats"
)

// GenmovesPerPeer bounds how many binary replies one peer can send during
// a single move: a five minute move at one genmoves every 5ms.
const GenmovesPerPeer = 60000

var ErrQueueFull = errors.New("receive queue full")

// Buffer is one binary reply of a peer. It is never modified once queued.
type Buffer struct {
	Owner int
	Incrs []stats.Incr
	// Size is the wire size of Incrs in bytes.
	Size int
}

// Queue holds every buffer received during the current move, in arrival
// order.
type Queue struct {
	slots  []atomic.Pointer[Buffer]
	length atomic.Int64
	age    atomic.Int64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{slots: make([]atomic.Pointer[Buffer], capacity)}
}

// QueueCapacity is the queue size needed for maxPeers peers.
func QueueCapacity(maxPeers int) int {
	return maxPeers * GenmovesPerPeer
}

func (q *Queue) Cap() int { return len(q.slots) }

// Len is the number of slots used in the current move, including
// invalidated ones.
func (q *Queue) Len() int { return int(q.length.Load()) }

// Age is incremented by every Clear.
func (q *Queue) Age() int64 { return q.age.Load() }

// Load returns the buffer at index i, nil if it was invalidated.
func (q *Queue) Load(i int) *Buffer {
	if i < 0 || i >= len(q.slots) {
		return nil
	}
	return q.slots[i].Load()
}

// Insert appends b and returns its index. Callers hold the coordinator lock.
func (q *Queue) Insert(b *Buffer) (int, error) {
	n := q.length.Load()
	if int(n) >= len(q.slots) {
		return -1, ErrQueueFull
	}
	q.slots[n].Store(b)
	q.length.Store(n + 1)
	return int(n), nil
}

// Clear empties the queue for a new move. Old slots keep their pointers
// until overwritten; readers detect them through the age. Callers hold the
// coordinator lock.
func (q *Queue) Clear() {
	q.length.Store(0)
	q.age.Add(1)
}

// invalidate drops b from slot i unless the slot has been reused since.
func (q *Queue) invalidate(i int, b *Buffer) bool {
	if i < 0 || i >= len(q.slots) {
		return false
	}
	return q.slots[i].CompareAndSwap(b, nil)
}

// Live counts valid buffers in the current move. For diagnostics only.
func (q *Queue) Live() int {
	n := 0
	for i := 0; i < q.Len(); i++ {
		if q.slots[i].Load() != nil {
			n++
		}
	}
	return n
}
