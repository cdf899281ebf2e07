// internal/proto/proto.go
package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// GameLen is the longest supported game. Command ids carry the move number
// modulo GameLen, so ids below GameLen never collide with a force reply id.
const GameLen = 1000

// IDRandMax bounds the random part of an id.
const IDRandMax = 65535

// ForceReply marks id as one the peer must answer.
func ForceReply(id int) int { return id + GameLen }

// PreventReply turns id into a silent id: the peer executes the command
// without replying.
func PreventReply(id int) int { return id % GameLen }

// MoveNumber is the move an id was issued at.
func MoveNumber(id int) int { return id % GameLen }

// ReplyDisabled reports whether id is silent.
func ReplyDisabled(id int) bool { return id < GameLen }

// NewID builds a force reply id for a command issued at the given move,
// distinct from prev. rnd returns a value in [0, n).
func NewID(moves, prev int, rnd func(n int) int) int {
	for {
		id := ForceReply(moves + rnd(IDRandMax)*GameLen)
		if id != prev {
			return id
		}
	}
}

// IsGameStart reports whether cmd starts a new game.
func IsGameStart(cmd string) bool {
	return strings.EqualFold(cmd, "boardsize")
}

// IsReset reports whether cmd puts the board back to move 0.
func IsReset(cmd string) bool {
	return IsGameStart(cmd) || strings.EqualFold(cmd, "clear_board") || strings.EqualFold(cmd, "kgs-rules")
}

// FormatCommand renders one command. args is empty or ends with a newline.
func FormatCommand(id int, name, args string) string {
	if args == "" {
		args = "\n"
	}
	return strconv.Itoa(id) + " " + name + " " + args
}

// BinaryToken returns the size announced by an @N token on the first line
// of s, or -1 if there is none.
func BinaryToken(s string) int {
	line := s
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	i := strings.IndexByte(line, '@')
	if i < 0 {
		return -1
	}
	j := i + 1
	for j < len(line) && line[j] >= '0' && line[j] <= '9' {
		j++
	}
	n, err := strconv.Atoi(line[i+1 : j])
	if err != nil {
		return 0
	}
	return n
}

// SetBinarySize rewrites the @N token on the first line of s to @size. s is
// returned unchanged if it has no token.
func SetBinarySize(s string, size int) string {
	end := strings.IndexByte(s, '\n')
	if end < 0 {
		end = len(s)
	}
	i := strings.IndexByte(s[:end], '@')
	if i < 0 {
		return s
	}
	j := i + 1
	for j < end && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	return s[:i+1] + strconv.Itoa(size) + s[j:]
}

// Command is one parsed command line, as seen by a peer.
type Command struct {
	ID   int
	Name string
	// Args holds everything after the name, without the trailing newline
	// of the first line.
	Args string
}

// ParseCommand splits a command line. A line without a numeric id gets id -1.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("%w: empty command", ErrBadCommand)
	}
	c := Command{ID: -1}
	if head, rest, _ := strings.Cut(line, " "); head != "" {
		if id, err := strconv.Atoi(head); err == nil {
			c.ID = id
			line = strings.TrimSpace(rest)
		}
	}
	if line == "" {
		return Command{}, fmt.Errorf("%w: missing name", ErrBadCommand)
	}
	name, args, _ := strings.Cut(line, " ")
	c.Name = name
	c.Args = strings.TrimSpace(args)
	return c, nil
}
