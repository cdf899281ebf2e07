// Package record keeps one row per generated move and writes each game to
// a zstd compressed parquet file when it ends.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

type Row struct {
	Game      string  `parquet:"game,dict"`
	Move      int32   `parquet:"move"`
	Color     string  `parquet:"color,dict"`
	Coord     string  `parquet:"coord,dict"`
	Playouts  int32   `parquet:"playouts"`
	Value     float32 `parquet:"value"`
	Total     int64   `parquet:"total_playouts"`
	Replies   int32   `parquet:"replies"`
	Threads   int32   `parquet:"threads"`
	ElapsedMS int64   `parquet:"elapsed_ms"`
}

// Recorder is safe for concurrent use. A nil Recorder records nothing.
type Recorder struct {
	mu   sync.Mutex
	dir  string
	game string
	rows []Row
}

func New(dir string) *Recorder {
	return &Recorder{dir: dir, game: uuid.NewString()}
}

// Game is the id of the game being recorded.
func (r *Recorder) Game() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game
}

func (r *Recorder) Add(row Row) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.Game = r.game
	r.rows = append(r.rows, row)
}

// NewGame writes the current game, if it has rows, and starts a new one.
func (r *Recorder) NewGame() (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	rows, game := r.rows, r.game
	r.rows = nil
	r.game = uuid.NewString()
	r.mu.Unlock()
	if len(rows) == 0 {
		return "", nil
	}
	return write(r.dir, game, rows)
}

// Flush writes the current game so far without ending it.
func (r *Recorder) Flush() (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	rows := append([]Row(nil), r.rows...)
	game := r.game
	r.mu.Unlock()
	if len(rows) == 0 {
		return "", nil
	}
	return write(r.dir, game, rows)
}

func write(dir, game string, rows []Row) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create record dir: %w", err)
	}
	path := filepath.Join(dir, "game-"+game+".parquet")
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)
	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "mcdist_move_v1"),
	); err != nil {
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return path, nil
}

// ReadFile loads the rows of a recorded game.
func ReadFile(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
