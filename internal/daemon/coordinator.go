// Package daemon is the coordinator: it keeps every connected peer on the
// same command, relays search statistics between them and pools their
// answers.
//
// One coarse lock, Coordinator.mu, guards the command log, the replies to
// the current command, the active peer count and all structural changes of
// the receive queue. Peer workers release it around socket I/O and around
// the statistics merge, which relies on the queue age instead.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mcdist/internal/cmdlog"
	"mcdist/internal/debuglog"
	"mcdist/internal/metrics"
	"mcdist/internal/peer"
	"mcdist/internal/relay"
	"mcdist/internal/stats"
)

// ErrNoReplies reports that no peer answered before the deadline.
var ErrNoReplies = errors.New("no peers answered")

type Coordinator struct {
	opts    Options
	log     *debuglog.Logger
	metrics *metrics.Metrics
	peers   *peer.Registry

	mu      sync.Mutex
	cmds    *cmdlog.Log
	cmdCh   chan struct{}
	replyCh chan struct{}
	replies []string
	active  int
	// pending holds log lines produced under mu, written by unlock.
	pending []logLine

	queue    *relay.Queue
	counts   relay.HashCounts
	relayCfg relay.Config
	layout   atomic.Pointer[stats.Layout]

	// slots is indexed by slot number; entries are created on the first
	// connection of a slot and kept across reconnections.
	slots []*slotState
}

// Deps are the collaborators of a Coordinator. Nil fields get defaults.
type Deps struct {
	Log     *debuglog.Logger
	Metrics *metrics.Metrics
	Peers   *peer.Registry
	// Rand picks the random part of command ids.
	Rand func(n int) int
}

func New(opts Options, deps Deps) *Coordinator {
	if opts.MaxSlaves <= 0 {
		opts.MaxSlaves = defaultMaxSlaves
	}
	if opts.SharedNodes <= 0 {
		opts.SharedNodes = defaultSharedNodes
	}
	if opts.StatsHashBits <= 0 {
		opts.StatsHashBits = defaultStatsHashBits
	}
	if opts.FastCmdWait <= 0 {
		opts.FastCmdWait = defaultFastCmdWait
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatsInterval
	}
	if opts.GenmoveWait <= 0 {
		opts.GenmoveWait = defaultGenmoveWait
	}
	if opts.Games <= 0 {
		opts.Games = defaultGames
	}
	if deps.Log == nil {
		deps.Log = debuglog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Peers == nil {
		deps.Peers = peer.NewRegistry()
	}
	c := &Coordinator{
		opts:    opts,
		log:     deps.Log,
		metrics: deps.Metrics,
		peers:   deps.Peers,
		cmds:    cmdlog.New(deps.Rand),
		cmdCh:   make(chan struct{}),
		replyCh: make(chan struct{}),
		queue:   relay.NewQueue(relay.QueueCapacity(opts.MaxSlaves)),
		relayCfg: relay.Config{
			SharedNodes: opts.SharedNodes,
			HashBits:    opts.StatsHashBits,
			MaxPeers:    opts.MaxSlaves,
		},
		slots: make([]*slotState, opts.MaxSlaves),
	}
	l := stats.NewLayout(19)
	c.layout.Store(&l)
	return c
}

func (c *Coordinator) Options() Options              { return c.opts }
func (c *Coordinator) Metrics() *metrics.Metrics     { return c.metrics }
func (c *Coordinator) Peers() *peer.Registry         { return c.peers }
func (c *Coordinator) Logger() *debuglog.Logger      { return c.log }
func (c *Coordinator) HashCounts() *relay.HashCounts { return &c.counts }

// Active is the number of peers that passed the handshake.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.unlock()
	return c.active
}

// SetBoardSize fixes the layout used to validate relayed statistics.
func (c *Coordinator) SetBoardSize(size int) {
	l := stats.NewLayout(size)
	c.layout.Store(&l)
}

// logLine is a diagnostic line held back until c.mu is released, so the
// log writer never runs under the coordinator lock.
type logLine struct {
	prefix, addr, msg string
	// rateKey, when set, sends the line through RateLimited.
	rateKey string
	every   time.Duration
}

// unlock releases c.mu then writes the lines logged while it was held.
func (c *Coordinator) unlock() {
	lines := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, l := range lines {
		if l.rateKey != "" {
			c.log.RateLimited(l.rateKey, l.every, l.prefix, l.addr, l.msg)
		} else {
			c.log.Logline(l.prefix, l.addr, l.msg)
		}
	}
}

// The methods below ending in Locked expect c.mu to be held.

func (c *Coordinator) logfLocked(n int, prefix, addr, format string, args ...any) {
	if !c.log.Enabled(n) {
		return
	}
	c.pending = append(c.pending, logLine{prefix: prefix, addr: addr, msg: fmt.Sprintf(format, args...)})
}

func (c *Coordinator) rateLimitedLocked(key string, every time.Duration, prefix, addr, msg string) {
	c.pending = append(c.pending, logLine{prefix: prefix, addr: addr, msg: msg, rateKey: key, every: every})
}

func (c *Coordinator) signalCommandLocked() {
	close(c.cmdCh)
	c.cmdCh = make(chan struct{})
}

func (c *Coordinator) signalReplyLocked() {
	close(c.replyCh)
	c.replyCh = make(chan struct{})
}

// publishLocked sends a new command to all peers, forgetting the replies
// to the previous one.
func (c *Coordinator) publishLocked(moves int, name, args string) int {
	id := c.cmds.Publish(moves, name, args)
	c.replies = c.replies[:0]
	c.metrics.IncPublished()
	c.signalCommandLocked()
	return id
}

// updateLocked overwrites the current command keeping its id, so replies
// to the previous version still count.
func (c *Coordinator) updateLocked(moves int, name, args string) {
	c.cmds.Update(moves, name, args)
	c.signalCommandLocked()
}

// replaceLocked overwrites the current command with a new id.
func (c *Coordinator) replaceLocked(moves int, name, args string) int {
	id := c.cmds.Replace(moves, name, args)
	c.replies = c.replies[:0]
	c.metrics.IncPublished()
	c.signalCommandLocked()
	return id
}

// clearQueueLocked drops the statistics of the previous move.
func (c *Coordinator) clearQueueLocked() {
	if c.log.Enabled(3) {
		c.logfLocked(3, debuglog.Problem, "", "clear queue, old length %d live %d age %d", c.queue.Len(), c.queue.Live(), c.queue.Age())
	}
	c.queue.Clear()
	c.metrics.SetQueue(0, c.queue.Age())
}

// enoughFunc reports that the replies so far are sufficient.
type enoughFunc func(replies []string) bool

// getRepliesLocked waits for at least one new reply, then until every
// active peer answered the current command, until at least minReplies
// answered, until enough is satisfied, or until deadline. It returns the
// replies so far, or ErrNoReplies if there are none at the deadline. The
// returned slice is only valid while c.mu is held.
func (c *Coordinator) getRepliesLocked(ctx context.Context, deadline time.Time, minReplies int, enough enoughFunc) ([]string, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	expired := false
	for !expired {
		ch := c.replyCh
		c.unlock()
		select {
		case <-ch:
		case <-timer.C:
			expired = true
		case <-ctx.Done():
			c.mu.Lock()
			return c.replies, ctx.Err()
		}
		c.mu.Lock()
		n := len(c.replies)
		if n == 0 {
			continue
		}
		if n >= minReplies || n >= c.active || (enough != nil && enough(c.replies)) {
			return c.replies, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
	}
	if len(c.replies) == 0 {
		c.metrics.IncNoReplies()
		return nil, ErrNoReplies
	}
	c.logfLocked(1, debuglog.Problem, "", "get_replies timeout, replies %d < min %d, active %d",
		len(c.replies), minReplies, c.active)
	return c.replies, nil
}

// Dispatch publishes a command for the given move and waits up to wait for
// the replies, in deadline mode.
func (c *Coordinator) Dispatch(ctx context.Context, moves int, name, args string, wait time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.unlock()
	c.publishLocked(moves, name, args)
	replies, err := c.getRepliesLocked(ctx, time.Now().Add(wait), c.opts.MaxSlaves, nil)
	return append([]string(nil), replies...), err
}

// CurrentID is the id of the command peers must answer, -1 before the
// first one.
func (c *Coordinator) CurrentID() int {
	c.mu.Lock()
	defer c.unlock()
	return c.cmds.ID()
}
