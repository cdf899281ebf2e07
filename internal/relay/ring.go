package relay

import "mcdist/internal/stats"

// RingSize is the number of receive buffers each peer keeps in the queue
// at once. Queuing one more recycles the oldest.
const RingSize = 256

type ringSlot struct {
	buf   *Buffer
	index int
}

// Ring tracks the queue slots used by one peer so that its oldest buffer
// can be dropped from the queue when a new one is inserted.
type Ring struct {
	owner  int
	newest int
	slots  [RingSize]ringSlot
}

func NewRing(owner int) *Ring {
	r := &Ring{owner: owner, newest: RingSize - 1}
	for i := range r.slots {
		r.slots[i].index = -1
	}
	return r
}

// Insert queues incrs as a new buffer owned by the ring's peer, first
// recycling the oldest buffer. Callers hold the coordinator lock.
func (r *Ring) Insert(q *Queue, incrs []stats.Incr) (int, error) {
	next := (r.newest + 1) % RingSize
	r.newest = next
	s := &r.slots[next]
	if s.index >= 0 {
		// The slot may belong to another peer after a new move; the
		// pointer comparison leaves it alone in that case.
		q.invalidate(s.index, s.buf)
		s.index = -1
		s.buf = nil
	}
	b := &Buffer{Owner: r.owner, Incrs: incrs, Size: len(incrs) * stats.RecordSize}
	i, err := q.Insert(b)
	if err != nil {
		return -1, err
	}
	s.buf = b
	s.index = i
	return i, nil
}
