package proto

import (
	"bufio"
	"bytes"
	"testing"

	"mcdist/internal/stats"
	"mcdist/internal/testutil"
)

func FuzzReadReply(f *testing.F) {
	f.Add([]byte("=1001 ok\n\n"))
	f.Add([]byte("=1001 1 2 3 1 @16\n\n0123456789abcdef"))
	f.Add([]byte("?12 error\n\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.Truncate(data)
		testutil.Bounded(t, func() {
			r, err := ReadReply(bufio.NewReader(bytes.NewReader(data)), 1<<12)
			if err == nil {
				_, _ = ParseGenmoves(r.Text)
			}
		})
	})
}

func FuzzReadCommand(f *testing.F) {
	f.Add([]byte("1005 pachi-genmoves b 12 @3\n\nabc"))
	f.Add([]byte("5 play w C3\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.Truncate(data)
		testutil.Bounded(t, func() {
			_, _, bin, err := ReadCommand(bufio.NewReader(bytes.NewReader(data)), 1<<12)
			if err == nil && len(bin) > 0 {
				_, _ = stats.Decode(bin)
			}
		})
	})
}
