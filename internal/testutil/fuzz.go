package testutil

import (
	"testing"
	"time"
)

const (
	// FuzzInputLimit keeps fuzz inputs near the size of a large stats reply.
	FuzzInputLimit  = 64 << 10
	FuzzStepTimeout = 200 * time.Millisecond
)

// Truncate caps a fuzz input to FuzzInputLimit bytes.
func Truncate(b []byte) []byte {
	if len(b) > FuzzInputLimit {
		return b[:FuzzInputLimit]
	}
	return b
}

// Bounded fails t when fn blocks for longer than FuzzStepTimeout. Readers
// must return an error on short input, never wait for more.
func Bounded(t testing.TB, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(FuzzStepTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("input not consumed within %s", FuzzStepTimeout)
	}
}
