package proto

import (
	"fmt"
	"strconv"
	"strings"

	"mcdist/internal/stats"
)

const (
	CmdGenmoves        = "pachi-genmoves"
	CmdGenmovesCleanup = "pachi-genmoves_cleanup"
)

// IsRepeated reports whether cmd is sent several times with the same id.
func IsRepeated(cmd string) bool {
	return strings.Contains(cmd, CmdGenmoves)
}

// MoveStats are the stats of one candidate move, keyed by its vertex.
type MoveStats struct {
	Move string
	stats.Stats2
}

// GenmovesReply is a parsed answer to pachi-genmoves:
//
//	=id played_own total_playouts threads keep_looking[ reserved...]
//	coord playouts value amaf_playouts amaf_value
//	...
type GenmovesReply struct {
	ID          int
	Played      int
	Playouts    int
	Threads     int
	KeepLooking bool
	Moves       []MoveStats
}

// ParseGenmoves parses the text of a genmoves reply. Parsing of move lines
// stops at the first line that does not have five fields.
func ParseGenmoves(text string) (GenmovesReply, error) {
	lines := strings.Split(text, "\n")
	head := strings.Fields(lines[0])
	if len(head) < 5 || !strings.HasPrefix(head[0], "=") {
		return GenmovesReply{}, fmt.Errorf("%w: genmoves header %q", ErrBadReply, lines[0])
	}
	var nums [5]int
	for i := 0; i < 5; i++ {
		f := head[i]
		if i == 0 {
			f = f[1:]
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return GenmovesReply{}, fmt.Errorf("%w: genmoves header %q", ErrBadReply, lines[0])
		}
		nums[i] = n
	}
	g := GenmovesReply{
		ID:          nums[0],
		Played:      nums[1],
		Playouts:    nums[2],
		Threads:     nums[3],
		KeepLooking: nums[4] != 0,
	}
	for _, line := range lines[1:] {
		m, ok := parseMoveLine(line)
		if !ok {
			break
		}
		g.Moves = append(g.Moves, m)
	}
	return g, nil
}

func parseMoveLine(line string) (MoveStats, bool) {
	f := strings.Fields(line)
	if len(f) != 5 {
		return MoveStats{}, false
	}
	var m MoveStats
	var err error
	m.Move = f[0]
	if m.U.Playouts, err = strconv.Atoi(f[1]); err != nil {
		return MoveStats{}, false
	}
	if m.U.Value, err = strconv.ParseFloat(f[2], 64); err != nil {
		return MoveStats{}, false
	}
	if m.AMAF.Playouts, err = strconv.Atoi(f[3]); err != nil {
		return MoveStats{}, false
	}
	if m.AMAF.Value, err = strconv.ParseFloat(f[4], 64); err != nil {
		return MoveStats{}, false
	}
	return m, true
}

// FormatGenmovesReply is the peer side of ParseGenmoves.
func FormatGenmovesReply(g GenmovesReply) string {
	var sb strings.Builder
	keep := 0
	if g.KeepLooking {
		keep = 1
	}
	fmt.Fprintf(&sb, "%d %d %d %d", g.Played, g.Playouts, g.Threads, keep)
	for _, m := range g.Moves {
		fmt.Fprintf(&sb, "\n%s %d %.7f %d %.7f", m.Move, m.U.Playouts, m.U.Value, m.AMAF.Playouts, m.AMAF.Value)
	}
	return sb.String()
}

// TimeControl is the wall clock budget forwarded to peers.
type TimeControl struct {
	Main    float64
	Byoyomi float64
	Periods int
	Stones  int
}

// GenmovesArgs are the arguments of a genmoves command.
type GenmovesArgs struct {
	Color  string
	Played int
	Time   *TimeControl
	// Binary adds the @N token announcing relayed stats.
	Binary bool
	Moves  []MoveStats
}

// String renders the arguments: the first line, one line per move and an
// empty line.
func (a GenmovesArgs) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d", a.Color, a.Played)
	if a.Time != nil {
		fmt.Fprintf(&sb, " %.3f %.3f %d %d", a.Time.Main, a.Time.Byoyomi, a.Time.Periods, a.Time.Stones)
	}
	if a.Binary {
		sb.WriteString(" @0")
	}
	sb.WriteString("\n")
	for _, m := range a.Moves {
		fmt.Fprintf(&sb, "%s %d %.7f %d %.7f\n", m.Move, m.U.Playouts, m.U.Value, m.AMAF.Playouts, m.AMAF.Value)
	}
	sb.WriteString("\n")
	return sb.String()
}
