package relay

import (
	"errors"
	"math"
	"testing"

	"mcdist/internal/stats"
)

func incr(path stats.PathKey, playouts int, value float64) stats.Incr {
	return stats.Incr{Path: path, Stats: stats.Stats{Playouts: playouts, Value: value}}
}

func newTestRelay(t *testing.T, owner int, q *Queue, cfg Config) *Relay {
	t.Helper()
	if cfg.HashBits == 0 {
		cfg.HashBits = 10
	}
	if cfg.SharedNodes == 0 {
		cfg.SharedNodes = 64
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = 8
	}
	return New(owner, q, cfg, nil)
}

func TestRelayMergesOtherPeers(t *testing.T) {
	q := NewQueue(64)
	const p = stats.PathKey(77)
	for owner, v := range []float64{0.7, 0.4, 1.0} {
		if _, err := NewRing(owner).Insert(q, []stats.Incr{incr(p, 1, v)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	r := newTestRelay(t, 3, q, Config{})
	blob, rep, err := r.Collect(r.Snapshot(1001))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, err := stats.Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 merged entry, got %d", len(got))
	}
	if got[0].Path != p || got[0].Playouts != 3 || math.Abs(got[0].Value-0.7) > 1e-6 {
		t.Fatalf("unexpected merged entry %+v", got[0])
	}
	if rep.Merged != 1 || rep.Output != 1 || rep.Read != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if _, ok := r.table.Get(p); ok {
		t.Fatalf("drained path still in table")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty table, got %d", r.Len())
	}
}

func TestRelayNoSelfEcho(t *testing.T) {
	q := NewQueue(64)
	own := NewRing(0)
	other := NewRing(1)
	if _, err := own.Insert(q, []stats.Incr{incr(10, 5, 0.5), incr(20, 5, 0.5)}); err != nil {
		t.Fatalf("insert own: %v", err)
	}
	if _, err := other.Insert(q, []stats.Incr{incr(20, 2, 1.0), incr(30, 1, 0.0)}); err != nil {
		t.Fatalf("insert other: %v", err)
	}
	r := newTestRelay(t, 0, q, Config{})
	blob, _, err := r.Collect(r.Snapshot(1001))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, err := stats.Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Path != 20 || got[0].Playouts != 2 || got[1].Path != 30 {
		t.Fatalf("unexpected relay %+v", got)
	}

	// nothing new: the next request is empty
	w := r.Snapshot(1001)
	if !w.Empty() {
		t.Fatalf("expected empty window, got %+v", w)
	}
}

func TestRelaySincemarkerAdvances(t *testing.T) {
	q := NewQueue(64)
	other := NewRing(1)
	r := newTestRelay(t, 0, q, Config{})
	if _, err := other.Insert(q, []stats.Incr{incr(5, 4, 0.25)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := r.Collect(r.Snapshot(1002)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if _, err := other.Insert(q, []stats.Incr{incr(5, 2, 1.0)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	w := r.Snapshot(1002)
	if w.Min != 1 || w.Max != 1 {
		t.Fatalf("expected window 1..1, got %d..%d", w.Min, w.Max)
	}
	blob, _, err := r.Collect(w)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, _ := stats.Decode(blob)
	if len(got) != 1 || got[0].Playouts != 2 {
		t.Fatalf("expected only the new increment, got %+v", got)
	}
}

func TestTableDrainByBucket(t *testing.T) {
	const n = 5
	tab := NewTable(8, nil)
	for i := 1; i <= 2*n; i++ {
		// path order is the reverse of playout order
		if err := tab.Tally(incr(stats.PathKey(100-i), i, 0.5)); err != nil {
			t.Fatalf("tally: %v", err)
		}
	}
	first := tab.Drain(n)
	if len(first) != n {
		t.Fatalf("expected %d entries, got %d", n, len(first))
	}
	for i, s := range first {
		if s.Playouts <= n {
			t.Fatalf("entry %d has low increment %d", i, s.Playouts)
		}
		if i > 0 && first[i-1].Path >= s.Path {
			t.Fatalf("output not sorted by path")
		}
	}
	second := tab.Drain(n)
	if len(second) != n {
		t.Fatalf("expected remaining %d entries, got %d", n, len(second))
	}
	for _, s := range second {
		if s.Playouts > n {
			t.Fatalf("entry sent twice: %+v", s)
		}
	}
	if tab.Len() != 0 || tab.Pending() != 0 {
		t.Fatalf("table not empty: len %d pending %d", tab.Len(), tab.Pending())
	}
	if out := tab.Drain(n); len(out) != 0 {
		t.Fatalf("expected nothing left, got %d", len(out))
	}
}

func TestTablePartialBucket(t *testing.T) {
	tab := NewTable(8, nil)
	for i := 1; i <= 6; i++ {
		if err := tab.Tally(incr(stats.PathKey(i), 3, 0.5)); err != nil {
			t.Fatalf("tally: %v", err)
		}
	}
	if err := tab.Tally(incr(50, 2000, 0.5)); err != nil {
		t.Fatalf("tally: %v", err)
	}
	out := tab.Drain(4)
	if len(out) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(out))
	}
	if out[len(out)-1].Path != 50 {
		t.Fatalf("top bucket entry missing: %+v", out)
	}
	if tab.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", tab.Pending())
	}
}

func TestTableDrainsEmptyIncrements(t *testing.T) {
	tab := NewTable(8, nil)
	if err := tab.Tally(incr(7, 0, 0.5)); err != nil {
		t.Fatalf("tally: %v", err)
	}
	if err := tab.Tally(incr(8, 5, 0.5)); err != nil {
		t.Fatalf("tally: %v", err)
	}
	out := tab.Drain(10)
	if len(out) != 2 || out[0].Path != 7 || out[1].Path != 8 {
		t.Fatalf("expected both entries, got %+v", out)
	}
	if tab.Pending() != 0 {
		t.Fatalf("expected nothing pending, got %d", tab.Pending())
	}
}

func TestRelayDrainRemainderOnNextCall(t *testing.T) {
	const n = 4
	q := NewQueue(64)
	incrs := make([]stats.Incr, 0, 2*n)
	for i := 1; i <= 2*n; i++ {
		incrs = append(incrs, incr(stats.PathKey(i), i, 0.5))
	}
	if _, err := NewRing(1).Insert(q, incrs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r := newTestRelay(t, 0, q, Config{SharedNodes: n})
	blob, _, err := r.Collect(r.Snapshot(1003))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(blob) != n*stats.RecordSize {
		t.Fatalf("expected %d bytes, got %d", n*stats.RecordSize, len(blob))
	}
	w := r.Snapshot(1003)
	if w.Empty() {
		t.Fatalf("pending entries should be drained by the next call")
	}
	blob, _, err = r.Collect(w)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, _ := stats.Decode(blob)
	if len(got) != n {
		t.Fatalf("expected remaining %d, got %d", n, len(got))
	}
	for _, s := range got {
		if s.Playouts > n {
			t.Fatalf("resent entry %+v", s)
		}
	}
}

func TestDrainRespectsBudget(t *testing.T) {
	tab := NewTable(10, nil)
	for i := 1; i <= 300; i++ {
		if err := tab.Tally(incr(stats.PathKey(i), i%7+1, 0.5)); err != nil {
			t.Fatalf("tally: %v", err)
		}
	}
	for _, budget := range []int{0, 15, 16, 100, 1000, 1 << 20} {
		r := &Relay{table: tab}
		out := r.Drain(budget)
		if len(stats.Encode(out)) > budget {
			t.Fatalf("budget %d exceeded: %d bytes", budget, len(out)*stats.RecordSize)
		}
	}
}

func TestRelayStaleMergeReturnsEmpty(t *testing.T) {
	q := NewQueue(64)
	for owner := 1; owner <= 3; owner++ {
		if _, err := NewRing(owner).Insert(q, []stats.Incr{incr(1, 1, 0.5), incr(2, 1, 0.5), incr(3, 1, 0.5)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	r := newTestRelay(t, 0, q, Config{})
	w := r.Snapshot(1004)

	steps := 0
	testHookMergeStep = func() {
		steps++
		if steps == 2 {
			q.Clear()
		}
	}
	defer func() { testHookMergeStep = nil }()

	blob, _, err := r.Collect(w)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if blob != nil {
		t.Fatalf("expected no data, got %d bytes", len(blob))
	}
	if r.Len() != 0 || r.table.Len() != 0 {
		t.Fatalf("stale merge left %d entries", r.table.Len())
	}
}

func TestResetClearsEverything(t *testing.T) {
	q := NewQueue(64)
	other := NewRing(1)
	if _, err := other.Insert(q, []stats.Incr{incr(9, 3, 0.5), incr(11, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r := newTestRelay(t, 0, q, Config{SharedNodes: 1})
	if _, _, err := r.Collect(r.Snapshot(1005)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 unsent entry, got %d", r.Len())
	}
	q.Clear()
	if q.Len() != 0 || r.Len() != 0 {
		t.Fatalf("after reset: queue %d relay %d", q.Len(), r.Len())
	}
	// the next request starts from the new move only
	w := r.Snapshot(2005)
	if w.Min != 0 || w.Max != -1 {
		t.Fatalf("unexpected window %d..%d", w.Min, w.Max)
	}
	blob, _, err := r.Collect(w)
	if err != nil || blob != nil {
		t.Fatalf("expected empty relay, got %d bytes err %v", len(blob), err)
	}
}

func TestRingRecyclesOldest(t *testing.T) {
	q := NewQueue(2 * RingSize)
	ring := NewRing(4)
	for i := 0; i <= RingSize; i++ {
		if _, err := ring.Insert(q, []stats.Incr{incr(stats.PathKey(i+1), 1, 0.5)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if q.Load(0) != nil {
		t.Fatalf("oldest buffer should be invalidated")
	}
	if q.Load(1) == nil || q.Load(RingSize) == nil {
		t.Fatalf("recent buffers should stay valid")
	}
	if q.Live() != RingSize {
		t.Fatalf("expected %d live buffers, got %d", RingSize, q.Live())
	}
}

func TestRingLeavesOtherPeersSlotAfterReset(t *testing.T) {
	q := NewQueue(8)
	a := NewRing(1)
	b := NewRing(2)
	if _, err := a.Insert(q, []stats.Incr{incr(1, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	q.Clear()
	if _, err := b.Insert(q, []stats.Incr{incr(2, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// a wraps around to its first ring slot, whose queue entry now
	// belongs to b
	a.newest = RingSize - 1
	if _, err := a.Insert(q, []stats.Incr{incr(3, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := q.Load(0); got == nil || got.Owner != 2 {
		t.Fatalf("other peer's buffer was invalidated: %+v", got)
	}
}

func TestRelayBacklogRevisited(t *testing.T) {
	q := NewQueue(64)
	if _, err := NewRing(1).Insert(q, []stats.Incr{incr(10, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := NewRing(2).Insert(q, []stats.Incr{incr(20, 1, 0.5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// one node per merge
	r := newTestRelay(t, 0, q, Config{SharedNodes: 1, MaxPeers: 2})
	blob, rep, err := r.Collect(r.Snapshot(1006))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, _ := stats.Decode(blob)
	if len(got) != 1 || got[0].Path != 20 || rep.Backlog != 1 {
		t.Fatalf("expected newest buffer first, got %+v backlog %d", got, rep.Backlog)
	}
	blob, _, err = r.Collect(r.Snapshot(1006))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, _ = stats.Decode(blob)
	if len(got) != 1 || got[0].Path != 10 {
		t.Fatalf("expected backlog buffer, got %+v", got)
	}
}

func TestTableFull(t *testing.T) {
	tab := NewTable(minHashBits, nil)
	full := false
	for i := 1; i <= 64; i++ {
		if err := tab.Tally(incr(stats.PathKey(i), 1, 0.5)); errors.Is(err, ErrTableFull) {
			full = true
		} else if err != nil {
			t.Fatalf("tally: %v", err)
		}
	}
	if !full {
		t.Fatalf("expected ErrTableFull")
	}
	if tab.Len() > tab.Size() {
		t.Fatalf("len %d > size %d", tab.Len(), tab.Size())
	}
}

func TestTableReusesSentSlots(t *testing.T) {
	tab := NewTable(minHashBits, nil)
	for round := 0; round < 20; round++ {
		for i := 1; i <= 4; i++ {
			p := stats.PathKey(round*4 + i)
			if err := tab.Tally(incr(p, 1, 0.5)); err != nil {
				t.Fatalf("round %d tally: %v", round, err)
			}
		}
		if out := tab.Drain(16); len(out) != 4 {
			t.Fatalf("round %d: drained %d", round, len(out))
		}
	}
}
