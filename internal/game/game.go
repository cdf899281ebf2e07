// Package game is the small part of the board the coordinator needs: the
// move counter, the side to move and vertex conversions. Legality and
// scoring belong to the peers.
package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mcdist/internal/stats"
)

const MaxBoardSize = 25

var (
	ErrBadColor  = errors.New("bad color")
	ErrBadVertex = errors.New("bad vertex")
	ErrBadSize   = errors.New("unacceptable size")
)

type Color uint8

const (
	Empty Color = iota
	Black
	White
)

func ParseColor(input string) (Color, error) {
	switch strings.ToLower(input) {
	case "w", "white":
		return White, nil
	case "b", "black":
		return Black, nil
	}
	return Empty, fmt.Errorf("%w: %q", ErrBadColor, input)
}

// String uses the long names peers expect in play and genmoves arguments.
func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	}
	return "none"
}

func (c Color) Other() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return Empty
}

// Board tracks what the coordinator must know about the game in progress.
type Board struct {
	size   int
	moves  int
	komi   float64
	toPlay Color
	last   stats.Coord
	layout stats.Layout
}

func NewBoard(size int) (*Board, error) {
	b := &Board{}
	if err := b.SetSize(size); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) SetSize(size int) error {
	if size < 2 || size > MaxBoardSize {
		return fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	b.size = size
	b.layout = stats.NewLayout(size)
	b.Clear()
	return nil
}

// Clear starts a new game on the same board size.
func (b *Board) Clear() {
	b.moves = 0
	b.toPlay = Black
	b.last = stats.Pass
}

func (b *Board) Size() int { return b.size }

// Moves is the number of stones and passes played so far.
func (b *Board) Moves() int { return b.moves }

func (b *Board) Komi() float64     { return b.komi }
func (b *Board) SetKomi(k float64) { b.komi = k }

func (b *Board) ToPlay() Color { return b.toPlay }

// Last is the most recent move, Pass before the first one.
func (b *Board) Last() stats.Coord { return b.last }

func (b *Board) Layout() stats.Layout { return b.layout }

// Play records a move. Resigning ends the game without counting as a move.
func (b *Board) Play(c Color, at stats.Coord) error {
	if c != Black && c != White {
		return ErrBadColor
	}
	if at == stats.Resign {
		return nil
	}
	if at != stats.Pass && !b.OnBoard(at) {
		return fmt.Errorf("%w: %d", ErrBadVertex, at)
	}
	b.moves++
	b.last = at
	b.toPlay = c.Other()
	return nil
}

// PlaceHandicap counts n black stones placed before white's first move.
func (b *Board) PlaceHandicap(n int) {
	b.moves += n
	b.toPlay = White
}

func (b *Board) stride() int { return b.size + 2 }

// OnBoard reports whether c is a playable point.
func (b *Board) OnBoard(c stats.Coord) bool {
	if c < 0 {
		return false
	}
	x, y := int(c)%b.stride(), int(c)/b.stride()
	return x >= 1 && x <= b.size && y >= 1 && y <= b.size
}

// Coord converts a vertex such as "D4", "pass" or "resign". Columns skip
// the letter I; the point index is y*(size+2)+x, x and y starting at 1.
func (b *Board) Coord(vertex string) (stats.Coord, error) {
	v := strings.ToLower(strings.TrimSpace(vertex))
	switch v {
	case "pass":
		return stats.Pass, nil
	case "resign":
		return stats.Resign, nil
	}
	if len(v) < 2 || v[0] < 'a' || v[0] > 'z' || v[0] == 'i' {
		return 0, fmt.Errorf("%w: %q", ErrBadVertex, vertex)
	}
	x := int(v[0]-'a') + 1
	if v[0] > 'i' {
		x--
	}
	y, err := strconv.Atoi(v[1:])
	if err != nil || x > b.size || y < 1 || y > b.size {
		return 0, fmt.Errorf("%w: %q", ErrBadVertex, vertex)
	}
	return stats.Coord(y*b.stride() + x), nil
}

// Vertex is the inverse of Coord.
func (b *Board) Vertex(c stats.Coord) string {
	switch c {
	case stats.Pass:
		return "pass"
	case stats.Resign:
		return "resign"
	}
	if !b.OnBoard(c) {
		return fmt.Sprintf("invalid(%d)", c)
	}
	x, y := int(c)%b.stride(), int(c)/b.stride()
	letter := byte(x) - 1 + 'A'
	if letter >= 'I' {
		letter++
	}
	return fmt.Sprintf("%c%d", letter, y)
}
