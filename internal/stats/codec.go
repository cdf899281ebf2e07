package stats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// RecordSize is the wire size of one Incr: int64 path, int32 playouts,
// float32 value, little endian.
const RecordSize = 16

var ErrBadRecord = errors.New("bad stats record")

// Encode serializes incrs in order.
func Encode(incrs []Incr) []byte {
	out := make([]byte, len(incrs)*RecordSize)
	for i, s := range incrs {
		b := out[i*RecordSize:]
		binary.LittleEndian.PutUint64(b[0:8], uint64(s.Path))
		binary.LittleEndian.PutUint32(b[8:12], uint32(int32(s.Playouts)))
		binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(float32(s.Value)))
	}
	return out
}

// Decode parses a blob produced by Encode. Records must be sorted by
// strictly increasing path and carry positive playouts.
func Decode(b []byte) ([]Incr, error) {
	if len(b)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: size %d", ErrBadRecord, len(b))
	}
	n := len(b) / RecordSize
	out := make([]Incr, n)
	prev := PathKey(math.MinInt64)
	for i := 0; i < n; i++ {
		r := b[i*RecordSize:]
		s := Incr{
			Path: PathKey(binary.LittleEndian.Uint64(r[0:8])),
			Stats: Stats{
				Playouts: int(int32(binary.LittleEndian.Uint32(r[8:12]))),
				Value:    float64(math.Float32frombits(binary.LittleEndian.Uint32(r[12:16]))),
			},
		}
		if s.Path == NoPath || s.Path == MaxPathKey || s.Path <= prev {
			return nil, fmt.Errorf("%w: path %x at %d", ErrBadRecord, int64(s.Path), i)
		}
		if s.Playouts <= 0 {
			return nil, fmt.Errorf("%w: playouts %d at %d", ErrBadRecord, s.Playouts, i)
		}
		prev = s.Path
		out[i] = s
	}
	return out, nil
}

// DecodeFor is Decode plus a layout check of every path.
func DecodeFor(l Layout, b []byte) ([]Incr, error) {
	incrs, err := Decode(b)
	if err != nil {
		return nil, err
	}
	for i, s := range incrs {
		if !l.Valid(s.Path) {
			return nil, fmt.Errorf("%w: path %x at %d", ErrBadRecord, int64(s.Path), i)
		}
	}
	return incrs, nil
}
