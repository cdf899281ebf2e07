package daemon

import (
	"math"
	"testing"

	"mcdist/internal/game"
)

func testBoard(t *testing.T, size int) *game.Board {
	t.Helper()
	b, err := game.NewBoard(size)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	return b
}

func TestSelectBestMovePoolsPeers(t *testing.T) {
	b := testBoard(t, 19)
	replies := []string{
		"=1005 100 120 4 1\nD4 100 0.6000000 80 0.5000000\nQ16 20 0.4000000 0 0.0000000\n",
		"=1005 100 130 4 0\nD4 100 0.5000000 20 0.2500000\nQ16 90 0.4000000 0 0.0000000\n",
	}
	s := selectBestMove(b, replies)
	d4, _ := b.Coord("D4")
	if s.Best != d4 {
		t.Fatalf("expected D4, got %s", b.Vertex(s.Best))
	}
	st := s.BestStats()
	if st.U.Playouts != 200 || math.Abs(st.U.Value-0.55) > 1e-9 {
		t.Fatalf("unexpected pooled stats %+v", st.U)
	}
	if st.AMAF.Playouts != 100 || math.Abs(st.AMAF.Value-0.45) > 1e-9 {
		t.Fatalf("unexpected pooled amaf %+v", st.AMAF)
	}
	if s.Played != 200 || s.Playouts != 250 || s.Threads != 8 || s.Replies != 2 {
		t.Fatalf("unexpected totals %+v", s)
	}
	// one of two wants to go on: not a majority
	if s.KeepLooking {
		t.Fatalf("keep looking without a majority")
	}
}

func TestSelectBestMoveNoData(t *testing.T) {
	b := testBoard(t, 9)
	s := selectBestMove(b, []string{"?1005 failed\n", "=1005 garbage\n"})
	if s.Best != -1 || s.Played != 0 || s.KeepLooking {
		t.Fatalf("unexpected selection %+v", s)
	}
}

func TestSelectionAbove(t *testing.T) {
	b := testBoard(t, 19)
	s := selectBestMove(b, []string{
		"=7 0 0 1 1\nQ16 1000 0.5 0 0\nD4 11 0.5 0 0\nC3 10 0.5 0 0\npass 500 0.5 0 0\n",
	})
	moves := s.Above(b, s.BestStats().U.Playouts/100)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves above 1%%, got %+v", moves)
	}
	// point order: D4 comes before Q16
	if moves[0].Move != "D4" || moves[1].Move != "Q16" {
		t.Fatalf("unexpected order %+v", moves)
	}
	if !s.KeepLooking {
		t.Fatalf("single peer wants to keep looking")
	}
}

func TestValueFor(t *testing.T) {
	if valueFor(0.7, game.Black) != 0.7 || math.Abs(valueFor(0.7, game.White)-0.3) > 1e-12 {
		t.Fatalf("unexpected values")
	}
}
