package metrics

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Decision is the summary of one genmove.
type Decision struct {
	Move      int     `json:"move"`
	Color     string  `json:"color"`
	Coord     string  `json:"coord"`
	Playouts  int     `json:"playouts"`
	Value     float64 `json:"value"`
	Total     int     `json:"total_playouts"`
	Replies   int     `json:"replies"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Commands    CommandMetrics `json:"commands"`
	Peers       PeerMetrics    `json:"peers"`
	Merge       MergeMetrics   `json:"merge"`
	Queue       QueueMetrics   `json:"queue"`
	Recent      []Decision     `json:"recent"`
}

type CommandMetrics struct {
	Published     uint64 `json:"published"`
	Replies       uint64 `json:"replies"`
	OutOfSync     uint64 `json:"out_of_sync"`
	ResendPartial uint64 `json:"resend_partial"`
	ResendFull    uint64 `json:"resend_full"`
	NoReplies     uint64 `json:"no_replies"`
	BytesIn       uint64 `json:"bytes_in"`
	BytesOut      uint64 `json:"bytes_out"`
}

type PeerMetrics struct {
	Active    int64  `json:"active"`
	Connected uint64 `json:"connected"`
	Lost      uint64 `json:"lost"`
	Rejected  uint64 `json:"rejected"`
}

type MergeMetrics struct {
	Runs        uint64 `json:"runs"`
	Aborted     uint64 `json:"aborted"`
	NodesMerged uint64 `json:"nodes_merged"`
	NodesSent   uint64 `json:"nodes_sent"`
	NodesIn     uint64 `json:"nodes_in"`
}

type QueueMetrics struct {
	Length int64 `json:"length"`
	Age    int64 `json:"age"`
}

type Metrics struct {
	published     atomic.Uint64
	replies       atomic.Uint64
	outOfSync     atomic.Uint64
	resendPartial atomic.Uint64
	resendFull    atomic.Uint64
	noReplies     atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64

	active    atomic.Int64
	connected atomic.Uint64
	lost      atomic.Uint64
	rejected  atomic.Uint64

	merges      atomic.Uint64
	aborted     atomic.Uint64
	nodesMerged atomic.Uint64
	nodesSent   atomic.Uint64
	nodesIn     atomic.Uint64

	queueLen atomic.Int64
	queueAge atomic.Int64

	recent *Recent
}

func New() *Metrics {
	return &Metrics{recent: NewRecent(64)}
}

func (m *Metrics) Recent() *Recent {
	return m.recent
}

func (m *Metrics) IncPublished()       { m.published.Add(1) }
func (m *Metrics) IncReplies()         { m.replies.Add(1) }
func (m *Metrics) IncOutOfSync()       { m.outOfSync.Add(1) }
func (m *Metrics) IncNoReplies()       { m.noReplies.Add(1) }
func (m *Metrics) AddBytesIn(n int)    { m.bytesIn.Add(uint64(n)) }
func (m *Metrics) AddBytesOut(n int)   { m.bytesOut.Add(uint64(n)) }
func (m *Metrics) IncPeerRejected()    { m.rejected.Add(1) }
func (m *Metrics) IncMergeAborted()    { m.aborted.Add(1) }
func (m *Metrics) AddNodesIn(n int)    { m.nodesIn.Add(uint64(n)) }
func (m *Metrics) SetQueue(n, a int64) { m.queueLen.Store(n); m.queueAge.Store(a) }

func (m *Metrics) IncResend(full bool) {
	if full {
		m.resendFull.Add(1)
		return
	}
	m.resendPartial.Add(1)
}

func (m *Metrics) PeerConnected() {
	m.connected.Add(1)
	m.active.Add(1)
}

func (m *Metrics) PeerLost() {
	m.lost.Add(1)
	m.active.Add(-1)
}

func (m *Metrics) AddMerge(merged, sent int) {
	m.merges.Add(1)
	m.nodesMerged.Add(uint64(merged))
	m.nodesSent.Add(uint64(sent))
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []Decision{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Commands: CommandMetrics{
			Published:     m.published.Load(),
			Replies:       m.replies.Load(),
			OutOfSync:     m.outOfSync.Load(),
			ResendPartial: m.resendPartial.Load(),
			ResendFull:    m.resendFull.Load(),
			NoReplies:     m.noReplies.Load(),
			BytesIn:       m.bytesIn.Load(),
			BytesOut:      m.bytesOut.Load(),
		},
		Peers: PeerMetrics{
			Active:    m.active.Load(),
			Connected: m.connected.Load(),
			Lost:      m.lost.Load(),
			Rejected:  m.rejected.Load(),
		},
		Merge: MergeMetrics{
			Runs:        m.merges.Load(),
			Aborted:     m.aborted.Load(),
			NodesMerged: m.nodesMerged.Load(),
			NodesSent:   m.nodesSent.Load(),
			NodesIn:     m.nodesIn.Load(),
		},
		Queue: QueueMetrics{
			Length: m.queueLen.Load(),
			Age:    m.queueAge.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	data, err := sonnet.Marshal(m.Snapshot())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadSnapshot loads a snapshot written by WriteSnapshot or served by the
// monitor.
func ReadSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := sonnet.Unmarshal(data, &s)
	return s, err
}

// Recent keeps the last decisions, oldest first.
type Recent struct {
	mu   sync.Mutex
	cap  int
	list []Decision
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 64
	}
	return &Recent{cap: capacity}
}

func (r *Recent) Add(d Decision) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = d
		return
	}
	r.list = append(r.list, d)
}

func (r *Recent) List() []Decision {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.list))
	copy(out, r.list)
	return out
}
