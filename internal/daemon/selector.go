package daemon

import (
	"slices"

	"mcdist/internal/game"
	"mcdist/internal/proto"
	"mcdist/internal/stats"
)

// Selection pools the genmoves replies of one round.
type Selection struct {
	Best        stats.Coord
	Played      int
	Playouts    int
	Threads     int
	Replies     int
	KeepLooking bool

	moves map[stats.Coord]*stats.Stats2
}

// Get returns the pooled stats of a move.
func (s Selection) Get(c stats.Coord) stats.Stats2 {
	if m, ok := s.moves[c]; ok {
		return *m
	}
	return stats.Stats2{}
}

func (s Selection) BestStats() stats.Stats2 { return s.Get(s.Best) }

// Above lists the pooled stats of the board points with more than
// minPlayouts playouts, in point order. Pass and resign are left out.
func (s Selection) Above(b *game.Board, minPlayouts int) []proto.MoveStats {
	coords := make([]stats.Coord, 0, len(s.moves))
	for c, m := range s.moves {
		if c >= 0 && m.U.Playouts > minPlayouts {
			coords = append(coords, c)
		}
	}
	slices.Sort(coords)
	out := make([]proto.MoveStats, 0, len(coords))
	for _, c := range coords {
		out = append(out, proto.MoveStats{Move: b.Vertex(c), Stats2: *s.moves[c]})
	}
	return out
}

// selectBestMove merges every reply with the incremental mean. The best
// move has the most pooled playouts; the first move reaching a count wins
// ties. Replies with an unreadable header are ignored, as are move lines
// naming no point of the board.
func selectBestMove(b *game.Board, replies []string) Selection {
	s := Selection{
		Best:    stats.Pass,
		Replies: len(replies),
		moves:   make(map[stats.Coord]*stats.Stats2),
	}
	bestPlayouts := -1
	keep := 0
	for _, r := range replies {
		g, err := proto.ParseGenmoves(r)
		if err != nil {
			continue
		}
		s.Played += g.Played
		s.Playouts += g.Playouts
		s.Threads += g.Threads
		if g.KeepLooking {
			keep++
		}
		for _, m := range g.Moves {
			c, err := b.Coord(m.Move)
			if err != nil {
				continue
			}
			st, ok := s.moves[c]
			if !ok {
				st = &stats.Stats2{}
				s.moves[c] = st
			}
			st.U.Merge(m.U)
			st.AMAF.Merge(m.AMAF)
			if st.U.Playouts > bestPlayouts {
				bestPlayouts = st.U.Playouts
				s.Best = c
			}
		}
	}
	s.KeepLooking = keep > len(replies)/2
	return s
}

// valueFor converts a value from black's point of view.
func valueFor(value float64, color game.Color) float64 {
	if color == game.White {
		return 1 - value
	}
	return value
}
