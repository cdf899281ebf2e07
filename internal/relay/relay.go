package relay

import (
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"mcdist/internal/stats"
)

// ErrStale reports that the queue was cleared while a merge was running.
// The merge result is discarded; the caller retries on its next request.
var ErrStale = errors.New("receive queue changed during merge")

// testHookMergeStep is called at every step of the N-way merge.
var testHookMergeStep func()

// Config sizes the per peer merge state.
type Config struct {
	// SharedNodes is the maximum number of increments sent to a peer at once.
	SharedNodes int
	// HashBits sizes the per peer table.
	HashBits int
	// MaxPeers bounds how many nodes a single merge reads:
	// SharedNodes * (MaxPeers - 1).
	MaxPeers int
}

func (c Config) maxMerged() int {
	peers := c.MaxPeers - 1
	if peers < 1 {
		peers = 1
	}
	return c.SharedNodes * peers
}

// Window is the part of the receive queue a peer has not read yet,
// captured under the coordinator lock.
type Window struct {
	Min, Max int
	Age      int64
	CmdID    int
	backlog  []int
	skip     bool
}

// Empty reports that there is nothing to merge or drain.
func (w Window) Empty() bool { return w.skip }

// Report describes one Collect call, for the diagnostic log.
type Report struct {
	Min, Max  int
	Missed    int
	Read      int
	Merged    int
	Output    int
	Dropped   int
	Backlog   int
	Elapsed   time.Duration
	ClearTime time.Duration
}

// Relay is the merge state of one peer slot. Snapshot must be called under
// the coordinator lock; Merge, Drain and Collect run without it and are
// only ever called by the slot's own worker.
type Relay struct {
	owner int
	cfg   Config
	q     *Queue
	table *Table

	// lastProcessed is the newest queue index read, -1 if none.
	lastProcessed int
	// age is the queue age lastProcessed and backlog refer to.
	age int64
	// backlog holds indices skipped by the byte budget.
	backlog []int

	// statsID and statsAge identify what the table holds. statsID is -1
	// when the table must be cleared before use.
	statsID  int
	statsAge atomic.Int64
	live     atomic.Int64
}

func New(owner int, q *Queue, cfg Config, counts *HashCounts) *Relay {
	return &Relay{
		owner:         owner,
		cfg:           cfg,
		q:             q,
		table:         NewTable(cfg.HashBits, counts),
		lastProcessed: -1,
		age:           q.Age(),
		statsID:       -1,
	}
}

// Len is the number of unsent entries in the peer's table, zero once the
// queue moved to a new move.
func (r *Relay) Len() int {
	if r.statsAge.Load() != r.q.Age() {
		return 0
	}
	return int(r.live.Load())
}

// Snapshot captures the unread window for a command and marks it as read.
// Callers hold the coordinator lock.
func (r *Relay) Snapshot(cmdID int) Window {
	age := r.q.Age()
	if age != r.age {
		r.age = age
		r.lastProcessed = -1
		r.backlog = nil
	}
	w := Window{
		Min:     r.lastProcessed + 1,
		Max:     r.q.Len() - 1,
		Age:     age,
		CmdID:   cmdID,
		backlog: r.backlog,
	}
	r.backlog = nil
	fresh := r.statsID == cmdID && r.statsAge.Load() == age
	if w.Max < w.Min && len(w.backlog) == 0 && fresh && r.table.Pending() == 0 {
		w.skip = true
		return w
	}
	if w.Max >= w.Min {
		r.lastProcessed = w.Max
	}
	return w
}

type cursor struct {
	index int
	buf   *Buffer
	pos   int
}

func (c *cursor) path() stats.PathKey {
	if c.buf == nil || c.pos >= len(c.buf.Incrs) {
		return stats.MaxPathKey
	}
	return c.buf.Incrs[c.pos].Path
}

// filter picks the buffers to merge, newest first, skipping those owned by
// this peer and those already invalidated. Buffers that would push the
// merge past its node budget go to the backlog.
func (r *Relay) filter(w Window) (curs []cursor, backlog []int, nodes int) {
	maxSize := r.cfg.maxMerged() * stats.RecordSize
	indices := make([]int, 0, len(w.backlog)+max(0, w.Max-w.Min+1))
	for i := w.Max; i >= w.Min; i-- {
		indices = append(indices, i)
	}
	for i := len(w.backlog) - 1; i >= 0; i-- {
		indices = append(indices, w.backlog[i])
	}
	size := 0
	for n, i := range indices {
		b := r.q.Load(i)
		if b == nil || b.Owner == r.owner {
			continue
		}
		if size+b.Size > maxSize {
			for _, j := range indices[n:] {
				if b := r.q.Load(j); b != nil && b.Owner != r.owner {
					backlog = append(backlog, j)
				}
			}
			slices.Reverse(backlog)
			break
		}
		curs = append(curs, cursor{index: i, buf: b})
		size += b.Size
	}
	return curs, backlog, size / stats.RecordSize
}

// Merge folds the window into the peer's table with an N-way merge by
// path. It returns the number of table entries updated, or ErrStale if the
// queue was cleared meanwhile, in which case the table is dropped.
func (r *Relay) Merge(w Window, rep *Report) (int, error) {
	if rep == nil {
		rep = &Report{}
	}
	rep.Min, rep.Max = w.Min, w.Max
	if w.skip {
		return 0, nil
	}
	if r.statsID != w.CmdID || r.statsAge.Load() != w.Age {
		start := time.Now()
		r.table.Clear()
		r.statsID = w.CmdID
		r.statsAge.Store(w.Age)
		rep.ClearTime = time.Since(start)
	}

	curs, backlog, read := r.filter(w)
	rep.Read = read
	merged := 0
	for {
		if testHookMergeStep != nil {
			testHookMergeStep()
		}
		if r.q.Age() != w.Age {
			r.abort()
			return 0, ErrStale
		}
		minPath := stats.MaxPathKey
		for i := range curs {
			if p := curs[i].path(); p < minPath {
				minPath = p
			}
		}
		if minPath == stats.MaxPathKey {
			break
		}
		var sum stats.Stats
		for i := range curs {
			c := &curs[i]
			if c.path() != minPath {
				continue
			}
			if r.q.Load(c.index) != c.buf {
				c.buf = nil
				rep.Missed++
				continue
			}
			s := c.buf.Incrs[c.pos]
			sum.Add(s.Value, s.Playouts)
			c.pos++
		}
		if sum.Playouts == 0 {
			continue
		}
		if err := r.table.Tally(stats.Incr{Path: minPath, Stats: sum}); err != nil {
			rep.Dropped++
			continue
		}
		merged++
	}

	if r.q.Age() != w.Age {
		r.abort()
		return 0, ErrStale
	}
	r.backlog = backlog
	rep.Backlog = len(r.backlog)
	rep.Merged = merged
	r.live.Store(int64(r.table.Len()))
	return merged, nil
}

func (r *Relay) abort() {
	r.table.Clear()
	r.statsID = -1
	r.backlog = nil
	r.live.Store(0)
}

// Drain removes from the table the best increments that fit in budget
// bytes.
func (r *Relay) Drain(budget int) []stats.Incr {
	out := r.table.Drain(budget / stats.RecordSize)
	r.live.Store(int64(r.table.Len()))
	return out
}

// Collect merges the window and drains the result in one call, returning
// the encoded increments for the peer. The byte budget is SharedNodes
// records.
func (r *Relay) Collect(w Window) ([]byte, Report, error) {
	var rep Report
	start := time.Now()
	if w.skip {
		return nil, rep, nil
	}
	if _, err := r.Merge(w, &rep); err != nil {
		rep.Elapsed = time.Since(start)
		return nil, rep, err
	}
	out := r.Drain(r.cfg.SharedNodes * stats.RecordSize)
	rep.Output = len(out)
	rep.Elapsed = time.Since(start)
	if len(out) == 0 {
		return nil, rep, nil
	}
	return stats.Encode(out), rep, nil
}
