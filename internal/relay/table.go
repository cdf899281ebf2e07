package relay

import (
	"errors"
	"slices"
	"sync/atomic"

	"mcdist/internal/stats"
)

// MaxBuckets bounds the bucket counters used for output selection. Entries
// with n playouts since the last send go to bucket n, everything above
// MaxBuckets-1 shares the top bucket.
const MaxBuckets = 1024

const minHashBits = 4

var ErrTableFull = errors.New("relay table full")

// HashCounts aggregates hash table statistics over all peers.
type HashCounts struct {
	Lookups    atomic.Int64
	Collisions atomic.Int64
	Inserts    atomic.Int64
	Occupied   atomic.Int64
}

type entry struct {
	path stats.PathKey
	stats.Stats
	listed bool
}

// Table is a per peer open addressed hash table of increments not yet
// sent to that peer. It uses double hashing with path 0 for free slots.
// Sent entries keep their path with zero playouts so that probe chains
// through them stay intact; they are reused by a later insert.
type Table struct {
	bits    uint
	mask    int64
	entries []entry
	// touched lists entries updated since they were last sent.
	touched []int
	live    int
	counts  *HashCounts
}

func NewTable(bits int, counts *HashCounts) *Table {
	if bits < minHashBits {
		bits = minHashBits
	}
	if counts == nil {
		counts = &HashCounts{}
	}
	return &Table{
		bits:    uint(bits),
		mask:    int64(1)<<uint(bits) - 1,
		entries: make([]entry, 1<<uint(bits)),
		counts:  counts,
	}
}

func (t *Table) Size() int { return len(t.entries) }

// Len is the number of entries holding unsent playouts.
func (t *Table) Len() int { return t.live }

// Clear drops every entry.
func (t *Table) Clear() {
	clear(t.entries)
	t.counts.Occupied.Add(-int64(t.live))
	t.touched = t.touched[:0]
	t.live = 0
}

// find returns the slot for path: its entry if present, otherwise the
// first reusable slot on the probe chain.
func (t *Table) find(path stats.PathKey) (int, bool, error) {
	t.counts.Lookups.Add(1)
	p := int64(path)
	delta := p>>t.bits | 1
	h := (p ^ delta ^ delta>>t.bits) & t.mask
	free := int64(-1)
	for tries := 1 << (t.bits - 2); ; tries-- {
		e := &t.entries[h]
		if e.path == path {
			return int(h), true, nil
		}
		if e.path == stats.NoPath {
			if free < 0 {
				free = h
			}
			return int(free), false, nil
		}
		if e.Playouts == 0 && free < 0 {
			free = h
		}
		if tries == 0 {
			break
		}
		t.counts.Collisions.Add(1)
		h = (h + delta) & t.mask
	}
	if free >= 0 {
		return int(free), false, nil
	}
	return -1, false, ErrTableFull
}

// Tally adds s to the entry for its path.
func (t *Table) Tally(s stats.Incr) error {
	h, found, err := t.find(s.Path)
	if err != nil {
		return err
	}
	e := &t.entries[h]
	if found && e.Playouts > 0 {
		e.Add(s.Value, s.Playouts)
	} else {
		e.path = s.Path
		e.Stats = s.Stats
		t.live++
		t.counts.Inserts.Add(1)
		t.counts.Occupied.Add(1)
	}
	if !e.listed {
		e.listed = true
		t.touched = append(t.touched, h)
	}
	return nil
}

// Get returns the unsent stats for path.
func (t *Table) Get(path stats.PathKey) (stats.Stats, bool) {
	h, found, err := t.find(path)
	if err != nil || !found || t.entries[h].Playouts == 0 {
		return stats.Stats{}, false
	}
	return t.entries[h].Stats, true
}

func bucket(playouts int) int {
	switch {
	case playouts <= 0:
		return 0
	case playouts >= MaxBuckets:
		return MaxBuckets - 1
	}
	return playouts
}

// Drain removes and returns at most max touched entries, preferring those
// with the largest increments, sorted by path. Bucket counts replace a
// full sort: whole buckets are taken from the top until max is reached,
// the last one possibly in part. Entries not taken stay for the next call.
func (t *Table) Drain(max int) []stats.Incr {
	if max <= 0 || len(t.touched) == 0 {
		return nil
	}
	var counts [MaxBuckets]int
	for _, h := range t.touched {
		counts[bucket(t.entries[h].Playouts)]++
	}
	outCount := 0
	minIncr := MaxBuckets
	for {
		minIncr--
		outCount += counts[minIncr]
		if minIncr == 0 || outCount >= max {
			break
		}
	}
	// entries we can still take from the minIncr bucket
	minCount := counts[minIncr] - (outCount - max)

	out := make([]stats.Incr, 0, min(max, len(t.touched)))
	kept := t.touched[:0]
	for _, h := range t.touched {
		e := &t.entries[h]
		delta := bucket(e.Playouts) - minIncr
		if delta < 0 || (delta == 0 && minCount <= 0) || len(out) >= max {
			kept = append(kept, h)
			continue
		}
		if delta == 0 {
			minCount--
		}
		out = append(out, stats.Incr{Path: e.path, Stats: e.Stats})
		e.Stats = stats.Stats{}
		e.listed = false
		t.live--
		t.counts.Occupied.Add(-1)
	}
	t.touched = kept
	slices.SortFunc(out, func(a, b stats.Incr) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// Pending is the number of touched entries waiting to be drained.
func (t *Table) Pending() int { return len(t.touched) }
