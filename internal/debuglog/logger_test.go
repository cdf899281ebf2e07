package debuglog

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestLoglineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 2, false)
	l.Logline(Info, "10.0.0.7:4123", "new slave\n")
	re := regexp.MustCompile(`^= +10\.0\.0\.7:4123 +\d+\.\d{3}: new slave\n$`)
	if !re.MatchString(buf.String()) {
		t.Fatalf("unexpected line %q", buf.String())
	}
}

func TestLogfVerbosity(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 1, false)
	l.Logf(3, Problem, "", "hidden")
	if buf.Len() != 0 {
		t.Fatalf("line above verbosity written: %q", buf.String())
	}
	l.SetLevel(3)
	l.Logf(3, Problem, "", "shown %d", 7)
	if !strings.Contains(buf.String(), "shown 7") {
		t.Fatalf("missing line: %q", buf.String())
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 0, true)
	l.Logline(Decision, "", "GLOBAL WINNER is D4")
	out := buf.String()
	if !strings.Contains(out, `"prefix":"*"`) || !strings.Contains(out, `"message":"GLOBAL WINNER is D4"`) {
		t.Fatalf("unexpected json %q", out)
	}
}

func TestSubscribe(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 0, false)
	ch, cancel := l.Subscribe()
	l.Logline(Info, "", "hello")
	select {
	case line := <-ch:
		if !strings.HasSuffix(line, ": hello") {
			t.Fatalf("unexpected line %q", line)
		}
	case <-time.After(time.Second):
		t.Fatalf("no line received")
	}
	cancel()
	cancel()
	l.Logline(Info, "", "after cancel")
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
}

func TestSubscriberDropsWhenFull(t *testing.T) {
	l := New(&bytes.Buffer{}, 0, false)
	_, cancel := l.Subscribe()
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*subscriberQueue; i++ {
			l.Logline(Info, "", "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("logging blocked on a slow subscriber")
	}
}

func TestRateLimited(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 0, false)
	for i := 0; i < 5; i++ {
		l.RateLimited("reject", time.Hour, Problem, "1.2.3.4:5", "rejected")
	}
	if n := strings.Count(buf.String(), "rejected"); n != 1 {
		t.Fatalf("expected one line, got %d", n)
	}
}
