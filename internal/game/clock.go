package game

import "time"

// Clock is the time control of one side, as set by time_settings and
// refreshed by time_left. A zero Clock means no time control: the move is
// bounded by a playout count instead.
type Clock struct {
	// Main is the remaining main time.
	Main time.Duration
	// Byoyomi is the length of one overtime period holding Stones moves.
	Byoyomi time.Duration
	Periods int
	Stones  int
}

func (c Clock) Enabled() bool { return c.Main > 0 || c.Byoyomi > 0 }

// InByoyomi reports that main time is used up.
func (c Clock) InByoyomi() bool { return c.Main <= 0 && c.Byoyomi > 0 }

// Budget is the wall time to spend on the next move. In main time the
// remaining time is spread over the moves still expected on a board of the
// given size; in overtime a period is shared by its stones, keeping a
// margin for network latency.
func (c Clock) Budget(size, moves int) time.Duration {
	if !c.Enabled() {
		return 0
	}
	var overtime time.Duration
	if c.Byoyomi > 0 {
		stones := max(c.Stones, 1)
		overtime = c.Byoyomi * 8 / time.Duration(10*stones)
	}
	if c.InByoyomi() {
		return overtime
	}
	// Each side plays half of roughly 0.6 * size^2 moves.
	left := (size*size*6/10 - moves) / 2
	if left < 15 {
		left = 15
	}
	return c.Main/time.Duration(left) + overtime
}
