package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mcdist/internal/cmdlog"
	"mcdist/internal/debuglog"
	"mcdist/internal/proto"
	"mcdist/internal/relay"
	"mcdist/internal/stats"
)

const handshakeTimeout = 10 * time.Second

// slotState survives reconnections on a slot. Buffers a peer queued stay
// useful to the others after it leaves.
type slotState struct {
	id    int
	ring  *relay.Ring
	relay *relay.Relay
}

// conn is the protocol state of one connected peer.
type conn struct {
	slot *slotState
	addr string
	br   *bufio.Reader
	bw   *bufio.Writer

	// lastReplyID is the id of the last reply, -1 if unknown or if the
	// peer answered with an error.
	lastReplyID int
	// replySlot is the index of this peer's entry in the replies.
	replySlot int
}

func (c *Coordinator) slotStateLocked(id int) *slotState {
	if s := c.slots[id]; s != nil {
		return s
	}
	s := &slotState{
		id:    id,
		ring:  relay.NewRing(id),
		relay: relay.New(id, c.queue, c.relayCfg, &c.counts),
	}
	c.slots[id] = s
	return s
}

// runSlot accepts peers on ln one at a time until ctx is done. Whoever
// connects after the first peer is treated as out of sync.
func (c *Coordinator) runSlot(ctx context.Context, id int, ln net.Listener, transport string) error {
	throttle := rate.NewLimiter(rate.Every(time.Second), 1)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log.RateLimited("accept", time.Second, debuglog.Problem, "", fmt.Sprintf("accept: %v", err))
			if err := throttle.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		addr := nc.RemoteAddr().String()
		c.log.Logf(2, debuglog.Info, addr, "new slave, id %d", id)
		if err := c.servePeer(ctx, id, nc, transport); err != nil {
			if errors.Is(err, proto.ErrNotPeer) {
				c.metrics.IncPeerRejected()
				c.log.Logline(debuglog.Problem, addr, "bad slave")
				if err := throttle.Wait(ctx); err != nil {
					return nil
				}
				continue
			}
		}
		c.log.Logf(2, debuglog.Info, addr, "lost slave")
		if ctx.Err() != nil {
			return nil
		}
	}
}

// servePeer runs the handshake then the command loop until the connection
// fails. It returns proto.ErrNotPeer for a rejected peer.
func (c *Coordinator) servePeer(ctx context.Context, id int, nc net.Conn, transport string) error {
	defer nc.Close()
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	addr := nc.RemoteAddr().String()
	br := bufio.NewReaderSize(nc, proto.MaxLineSize)
	bw := bufio.NewWriter(nc)
	_ = nc.SetDeadline(time.Now().Add(handshakeTimeout))
	name, err := proto.Identify(br, bw)
	if err != nil {
		return err
	}
	_ = nc.SetDeadline(time.Time{})

	c.mu.Lock()
	p := &conn{
		slot:        c.slotStateLocked(id),
		addr:        addr,
		br:          br,
		bw:          bw,
		lastReplyID: -1,
		replySlot:   -1,
	}
	c.active++
	c.metrics.PeerConnected()
	c.peers.Connect(id, addr, name, transport)
	err = c.peerLoopLocked(ctx, p)
	c.active--
	c.metrics.PeerLost()
	c.peers.Disconnect(id)
	// Unblock a collector waiting for this peer.
	c.signalReplyLocked()
	c.unlock()
	return err
}

// waitCommandLocked waits for a command newer than lastCount.
func (c *Coordinator) waitCommandLocked(ctx context.Context, lastCount int) bool {
	for c.cmds.Len() == 0 || c.cmds.Count() == lastCount {
		ch := c.cmdCh
		c.unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			c.mu.Lock()
			return false
		}
		c.mu.Lock()
	}
	return true
}

// peerLoopLocked sends the current command, or the next one of the
// history while the peer is behind, and processes the reply. It returns
// when the connection fails.
func (c *Coordinator) peerLoopLocked(ctx context.Context, p *conn) error {
	lastCount := -1
	// A peer's state is unknown until its first in sync reply.
	resend := true
	for {
		var r cmdlog.Resend
		if resend && c.cmds.Len() > 0 {
			r = c.cmds.NextAfter(p.lastReplyID)
			if r.Full {
				c.logfLocked(0, debuglog.Problem, p.addr, "resend all")
			} else if r.Index != c.cmds.Len()-1 {
				move, slot, _ := c.cmds.Locate(p.lastReplyID)
				c.logfLocked(0, debuglog.Problem, p.addr, "partial resend after move %d slot %d", move, slot)
			}
			if r.Full || r.Index != c.cmds.Len()-1 {
				c.metrics.IncResend(r.Full)
				c.peers.Resend(p.slot.id)
			}
		} else {
			if !c.waitCommandLocked(ctx, lastCount) {
				return ctx.Err()
			}
			cur, _ := c.cmds.Current()
			r = cmdlog.Resend{Cmd: cur, Index: c.cmds.Len() - 1}
		}
		text, bin, ok := c.binaryArgLocked(p, r)
		resend = true
		if !ok {
			continue
		}

		lastCount = c.cmds.Count()
		c.unlock()
		reply, err := c.exchange(p, r.Cmd, text, bin)
		c.mu.Lock()
		if err != nil {
			return err
		}
		resend = c.processReplyLocked(p, reply)
	}
}

// binaryArgLocked renders the text to send and, for the current command
// when it announces a binary argument, the increments other peers learned
// since this peer's last request. The merge runs without the lock; ok is
// false if the command id changed meanwhile.
func (c *Coordinator) binaryArgLocked(p *conn, r cmdlog.Resend) (text string, bin []byte, ok bool) {
	current := r.Index == c.cmds.Len()-1
	if !current || proto.BinaryToken(r.Cmd.String()) < 0 {
		return r.Text(), nil, true
	}
	cmdID := c.cmds.ID()
	w := p.slot.relay.Snapshot(cmdID)
	if w.Empty() {
		return r.Text(), nil, true
	}
	c.unlock()
	blob, rep, err := p.slot.relay.Collect(w)
	c.mu.Lock()

	if errors.Is(err, relay.ErrStale) {
		c.metrics.IncMergeAborted()
		blob = nil
	} else {
		c.metrics.AddMerge(rep.Merged, rep.Output)
	}
	c.logfLocked(3, debuglog.Info, p.addr,
		"merged [%d..%d] missed %d read %d merged %d output %d backlog %d in %.3fms clear %.3fms",
		rep.Min, rep.Max, rep.Missed, rep.Read, rep.Merged, rep.Output, rep.Backlog,
		float64(rep.Elapsed.Microseconds())/1000, float64(rep.ClearTime.Microseconds())/1000)
	if c.cmds.ID() != cmdID {
		return "", nil, false
	}
	// The command may have been updated with the same id while merging.
	cur, _ := c.cmds.Current()
	return r.Prefix + proto.SetBinarySize(cur.String(), len(blob)), blob, true
}

// exchange writes one command and reads the reply. Called without the lock.
func (c *Coordinator) exchange(p *conn, cmd cmdlog.Command, text string, bin []byte) (proto.Reply, error) {
	start := time.Now()
	if err := proto.WriteCommand(p.bw, text, bin); err != nil {
		return proto.Reply{}, err
	}
	c.metrics.AddBytesOut(len(text) + len(bin))
	if c.log.Enabled(3) {
		first, _, _ := strings.Cut(cmd.String(), "\n")
		c.log.Logline(debuglog.Sent, p.addr, first)
	}
	if len(bin) > 0 && c.log.Enabled(2) {
		c.log.Logf(2, debuglog.Info, p.addr, "sent cmd %d+%d bytes in %.4fms",
			len(text), len(bin), float64(time.Since(start).Microseconds())/1000)
	}
	reply, err := proto.ReadReply(p.br, c.opts.SharedNodes*stats.RecordSize)
	if err != nil {
		return proto.Reply{}, err
	}
	c.metrics.AddBytesIn(len(reply.Text) + len(reply.Binary))
	if c.log.Enabled(3) {
		c.log.Logline(debuglog.Received, p.addr, reply.FirstLine())
	}
	return reply, nil
}

// processReplyLocked records an in sync reply and queues its binary part.
// It reports whether the peer is out of sync.
func (c *Coordinator) processReplyLocked(p *conn, r proto.Reply) bool {
	c.metrics.IncReplies()
	if !r.OK {
		p.lastReplyID = -1
		c.metrics.IncOutOfSync()
		c.peers.Reply(p.slot.id, r.ID, false)
		return true
	}
	if r.ID != c.cmds.ID() {
		p.lastReplyID = r.ID
		c.metrics.IncOutOfSync()
		c.peers.Reply(p.slot.id, r.ID, false)
		return true
	}
	if r.ID != p.lastReplyID || p.replySlot < 0 || p.replySlot >= len(c.replies) {
		p.replySlot = len(c.replies)
		c.replies = append(c.replies, r.Text)
	} else {
		c.replies[p.replySlot] = r.Text
	}
	p.lastReplyID = r.ID
	c.peers.Reply(p.slot.id, r.ID, true)

	if len(r.Binary) > 0 {
		c.queueBinaryLocked(p, r.Binary)
	}
	c.signalReplyLocked()
	return false
}

func (c *Coordinator) queueBinaryLocked(p *conn, bin []byte) {
	incrs, err := stats.DecodeFor(*c.layout.Load(), bin)
	if err != nil {
		c.logfLocked(1, debuglog.Problem, p.addr, "bad stats: %v", err)
		return
	}
	if len(incrs) == 0 {
		return
	}
	if _, err := p.slot.ring.Insert(c.queue, incrs); err != nil {
		c.rateLimitedLocked("queue", time.Second, debuglog.Problem, p.addr, err.Error())
		return
	}
	c.metrics.AddNodesIn(len(incrs))
	c.metrics.SetQueue(int64(c.queue.Len()), c.queue.Age())
}
