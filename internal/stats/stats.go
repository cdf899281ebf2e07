// Package stats holds the statistics records exchanged between the
// coordinator and its peers and the incremental-mean rule used to combine
// them.
package stats

// Stats tracks how many playouts went through a node and their mean value.
type Stats struct {
	Playouts int
	Value    float64
}

// Add folds playouts results with mean value into s. The running mean is
// updated incrementally: v' = v + (r - v) * n / (p + n).
func (s *Stats) Add(value float64, playouts int) {
	total := s.Playouts + playouts
	if total == 0 {
		return
	}
	s.Value += (value - s.Value) * float64(playouts) / float64(total)
	s.Playouts = total
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Add(o.Value, o.Playouts)
}

// Stats2 pairs the regular and AMAF statistics reported for a move.
type Stats2 struct {
	U    Stats
	AMAF Stats
}

// Incr is an incremental statistics record for one tree node: the playouts
// and value to add to what was last sent for that node.
type Incr struct {
	Path PathKey
	Stats
}
