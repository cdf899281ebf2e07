package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mcdist/internal/debuglog"
)

// stallWriter blocks every write once stalled, until release is closed.
type stallWriter struct {
	mu      sync.Mutex
	stalled bool
	once    sync.Once
	blocked chan struct{}
	release chan struct{}
}

func newStallWriter() *stallWriter {
	return &stallWriter{blocked: make(chan struct{}), release: make(chan struct{})}
}

func (w *stallWriter) stall() {
	w.mu.Lock()
	w.stalled = true
	w.mu.Unlock()
}

func (w *stallWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	stalled := w.stalled
	w.mu.Unlock()
	if stalled {
		w.once.Do(func() { close(w.blocked) })
		<-w.release
	}
	return len(p), nil
}

func TestStalledLogDoesNotHoldLock(t *testing.T) {
	w := newStallWriter()
	c := New(Options{MaxSlaves: 2, StatsHashBits: 10}, Deps{Log: debuglog.New(w, 0, false)})
	addr := serveCoordinator(t, c)
	t.Cleanup(func() { close(w.release) })

	ctx := context.Background()
	if _, err := c.Dispatch(ctx, 0, "boardsize", "19\n", 20*time.Millisecond); !errors.Is(err, ErrNoReplies) {
		t.Fatalf("expected ErrNoReplies, got %v", err)
	}
	w.stall()
	// A late peer gets the game replayed, which is logged.
	dialPeer(t, addr, answerOK)
	select {
	case <-w.blocked:
	case <-time.After(waitLong):
		t.Fatalf("replay was not logged")
	}

	done := make(chan int, 1)
	go func() { done <- c.Active() }()
	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("expected 1 active peer, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("Active blocked behind the log writer")
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(ctx, 0, "komi", "7.5\n", 50*time.Millisecond)
		errc <- err
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrNoReplies) {
			t.Fatalf("expected ErrNoReplies from the stalled peer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Dispatch blocked behind the log writer")
	}
}

func TestUnlockWritesPendingLines(t *testing.T) {
	c := New(Options{MaxSlaves: 1, StatsHashBits: 10}, Deps{Log: debuglog.New(newStallWriter(), 1, false)})
	lines, cancel := c.Logger().Subscribe()
	defer cancel()

	c.mu.Lock()
	c.logfLocked(1, debuglog.Problem, "peer", "resend %s", "all")
	c.logfLocked(2, debuglog.Info, "peer", "too verbose")
	if len(lines) != 0 {
		c.mu.Unlock()
		t.Fatalf("line written under the lock")
	}
	c.unlock()

	select {
	case l := <-lines:
		if !strings.HasPrefix(l, debuglog.Problem) || !strings.HasSuffix(l, "resend all") {
			t.Fatalf("unexpected line %q", l)
		}
	default:
		t.Fatalf("pending line not written on unlock")
	}
	select {
	case l := <-lines:
		t.Fatalf("verbose line written: %q", l)
	default:
	}
}
