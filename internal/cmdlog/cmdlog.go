// Package cmdlog keeps the commands of the current game and enough history
// to bring a lagging or reconnecting peer back in sync.
//
// Only the newest command carries a force reply id; the earlier ones are
// replayed with silent ids so a peer executes them without answering. The
// history remembers, for each move, the ids of the last MaxCmdsPerMove
// commands and which command followed each of them.
package cmdlog

import (
	"strings"

	"lukechampine.com/frand"

	"mcdist/internal/proto"
)

// MaxCmdsPerMove is the number of ids remembered per move: kgs-rules,
// boardsize, clear_board, time_settings, komi, handicap, genmoves, play
// pass, play pass, final_status_list.
const MaxCmdsPerMove = 10

// Command is one published command. ID is always the force reply form.
type Command struct {
	ID   int
	Name string
	// Args is empty or ends with a newline.
	Args string
}

// String renders the command with its force reply id.
func (c Command) String() string {
	return proto.FormatCommand(c.ID, c.Name, c.Args)
}

// Silent renders the command with a silent id.
func (c Command) Silent() string {
	return proto.FormatCommand(proto.PreventReply(c.ID), c.Name, c.Args)
}

type entry struct {
	id int
	// next is the index of the command sent after this one, -1 if none yet.
	next int
}

// Resend is what a peer out of sync must receive next.
type Resend struct {
	// Prefix holds the silent history sent before Cmd on a full replay.
	Prefix string
	Cmd    Command
	// Index of Cmd in the game.
	Index int
	Full  bool
}

// Text is the full text to send.
func (r Resend) Text() string { return r.Prefix + r.Cmd.String() }

// Log is not safe for concurrent use; the coordinator lock guards it.
type Log struct {
	cmds    []Command
	history [proto.GameLen][MaxCmdsPerMove]entry
	slot    int
	last    *entry
	id      int
	count   int
	rnd     func(n int) int
}

// New returns an empty log. rnd picks the random part of ids; nil uses
// frand.
func New(rnd func(n int) int) *Log {
	if rnd == nil {
		rnd = frand.Intn
	}
	return &Log{id: -1, rnd: rnd}
}

func moveFor(name string, moves int) int {
	if proto.IsReset(name) {
		return 0
	}
	return moves % proto.GameLen
}

// Publish appends a new command issued at the given move and returns its
// id. A game start drops the previous game and its history.
func (l *Log) Publish(moves int, name, args string) int {
	if len(l.cmds) == 0 || proto.IsGameStart(name) {
		l.cmds = l.cmds[:0]
		l.history = [proto.GameLen][MaxCmdsPerMove]entry{}
		l.last = nil
	}
	l.cmds = append(l.cmds, Command{})
	return l.write(moves, name, args, true)
}

// Update overwrites the current command, keeping its id. Peers that already
// answered it are not asked again for the old version; see Count.
func (l *Log) Update(moves int, name, args string) {
	if len(l.cmds) == 0 {
		l.Publish(moves, name, args)
		return
	}
	l.write(moves, name, args, false)
}

// Replace overwrites the current command with a new id. The history entry
// of the old id now leads to the replacement.
func (l *Log) Replace(moves int, name, args string) int {
	if len(l.cmds) == 0 {
		return l.Publish(moves, name, args)
	}
	return l.write(moves, name, args, true)
}

func (l *Log) write(moves int, name, args string, newID bool) int {
	m := moveFor(name, moves)
	if newID {
		l.id = proto.NewID(m, l.id, l.rnd)
	}
	cur := len(l.cmds) - 1
	l.cmds[cur] = Command{ID: l.id, Name: name, Args: args}
	l.count++
	if newID {
		if l.last != nil {
			l.last.next = cur
		}
		l.slot = (l.slot + 1) % MaxCmdsPerMove
		l.last = &l.history[m][l.slot]
		*l.last = entry{id: l.id, next: -1}
	}
	return l.id
}

// ID is the id of the current command, -1 before the first one.
func (l *Log) ID() int { return l.id }

// Count changes on every Publish, Update and Replace.
func (l *Log) Count() int { return l.count }

// Len is the number of commands in the current game.
func (l *Log) Len() int { return len(l.cmds) }

// Current returns the command peers must answer.
func (l *Log) Current() (Command, bool) {
	if len(l.cmds) == 0 {
		return Command{}, false
	}
	return l.cmds[len(l.cmds)-1], true
}

// Replay returns every command of the game, the earlier ones silent.
func (l *Log) Replay() Resend {
	if len(l.cmds) == 0 {
		return Resend{Index: -1, Full: true}
	}
	var sb strings.Builder
	last := len(l.cmds) - 1
	for _, c := range l.cmds[:last] {
		sb.WriteString(c.Silent())
	}
	return Resend{Prefix: sb.String(), Cmd: l.cmds[last], Index: last, Full: true}
}

// NextAfter returns the command to send to a peer whose last answer
// carried id. When id belongs to the retained history of this game, that
// is the single command sent after it; otherwise the whole game is
// replayed. id -1 means the peer's state is unknown.
func (l *Log) NextAfter(id int) Resend {
	if id < 0 || len(l.cmds) == 0 || proto.ReplyDisabled(id) {
		return l.Replay()
	}
	move := proto.MoveNumber(id)
	if move > proto.MoveNumber(l.id) {
		return l.Replay()
	}
	for _, e := range l.history[move] {
		if e.id != id {
			continue
		}
		if e.next < 0 || e.next >= len(l.cmds) {
			break
		}
		return Resend{Cmd: l.cmds[e.next], Index: e.next}
	}
	return l.Replay()
}

// Locate reports the history slot holding id.
func (l *Log) Locate(id int) (move, slot int, ok bool) {
	if id < 0 {
		return 0, 0, false
	}
	move = proto.MoveNumber(id)
	for s, e := range l.history[move] {
		if e.id == id {
			return move, s, true
		}
	}
	return 0, 0, false
}
