package stats

import (
	"errors"
	"math"
	"math/bits"
	"strings"
)

// Coord is a board point index as used by the search engine. Pass and
// Resign are negative so they can be told apart from real points.
type Coord int32

const (
	Pass   Coord = -1
	Resign Coord = -2
)

// PathKey packs the moves from the tree root to a node, most significant
// first: A1->B2->C3 is A1<<2b | B2<<b | C3 for b bits per coord. Keys are
// not transposition aware, so A1->B2 and B2->A1 differ. A single pass or
// resign is encoded as the negative coord itself.
type PathKey int64

const (
	// NoPath is the empty path of the root node. It never carries stats.
	NoPath PathKey = 0
	// MaxPathKey sorts after every valid key and marks exhausted cursors.
	MaxPathKey PathKey = math.MaxInt64

	// MaxDepth bounds path depth for the smallest supported board.
	MaxDepth = 9
)

var (
	ErrPathTooDeep = errors.New("path too deep")
	ErrBadCoord    = errors.New("coord not allowed in path")
)

// Layout knows how many bits a coord takes for a given board size.
type Layout struct {
	bits uint
}

// NewLayout returns the path layout for a size x size board with a one
// point border on each side.
func NewLayout(size int) Layout {
	points := (size + 2) * (size + 2)
	return Layout{bits: uint(bits.Len(uint(points - 1)))}
}

func (l Layout) Bits() uint { return l.bits }

// MaxDepth is the deepest path that fits a key without overflow.
func (l Layout) MaxDepth() int {
	if l.bits == 0 {
		return 0
	}
	d := 63 / int(l.bits)
	if d > MaxDepth {
		d = MaxDepth
	}
	return d
}

func (l Layout) mask() PathKey {
	return PathKey(1)<<l.bits - 1
}

// Pack builds the key for the given moves from the root.
func (l Layout) Pack(moves ...Coord) (PathKey, error) {
	if len(moves) == 1 && moves[0] < 0 {
		return PathKey(moves[0]), nil
	}
	k := NoPath
	for _, c := range moves {
		var err error
		if k, err = l.Append(k, c); err != nil {
			return NoPath, err
		}
	}
	return k, nil
}

// Append returns the key of child c of the node at k.
func (l Layout) Append(k PathKey, c Coord) (PathKey, error) {
	if k < 0 || c <= 0 || PathKey(c) > l.mask() {
		return NoPath, ErrBadCoord
	}
	if l.Depth(k) >= l.MaxDepth() {
		return NoPath, ErrPathTooDeep
	}
	return k<<l.bits | PathKey(c), nil
}

// Depth is the number of moves in k.
func (l Layout) Depth(k PathKey) int {
	if k < 0 {
		return 1
	}
	d := 0
	for ; k > 0; k >>= l.bits {
		d++
	}
	return d
}

// Leaf is the last move of k.
func (l Layout) Leaf(k PathKey) Coord {
	if k < 0 {
		return Coord(k)
	}
	return Coord(k & l.mask())
}

// Parent drops the last move of k. The parent of a pass or resign is the root.
func (l Layout) Parent(k PathKey) PathKey {
	if k < 0 {
		return NoPath
	}
	return k >> l.bits
}

// Unpack returns the moves of k from the root.
func (l Layout) Unpack(k PathKey) []Coord {
	if k < 0 {
		return []Coord{Coord(k)}
	}
	moves := make([]Coord, l.Depth(k))
	for i := len(moves) - 1; i >= 0; i-- {
		moves[i] = l.Leaf(k)
		k = l.Parent(k)
	}
	return moves
}

// Valid reports whether k could have been produced by Pack.
func (l Layout) Valid(k PathKey) bool {
	if k == NoPath || k == MaxPathKey {
		return false
	}
	if k < 0 {
		return k == PathKey(Pass) || k == PathKey(Resign)
	}
	if l.Depth(k) > l.MaxDepth() {
		return false
	}
	for ; k > 0; k = l.Parent(k) {
		if l.Leaf(k) == 0 {
			return false
		}
	}
	return true
}

// Format renders k as comma separated moves using name for each coord.
func (l Layout) Format(k PathKey, name func(Coord) string) string {
	moves := l.Unpack(k)
	parts := make([]string, len(moves))
	for i, c := range moves {
		parts[i] = name(c)
	}
	return strings.Join(parts, ",")
}
