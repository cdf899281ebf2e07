package daemon

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"mcdist/internal/debuglog"
)

func TestProxyMirrorsLines(t *testing.T) {
	c := New(Options{MaxSlaves: 1, StatsHashBits: 10}, Deps{Log: quietLogger()})
	lines, cancel := c.Logger().Subscribe()
	defer cancel()

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.proxyLines(context.Background(), server)
	}()
	if _, err := client.Write([]byte("playouts 1000\nwinrate 0.55\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	client.Close()

	var got []string
	timeout := time.After(waitLong)
	for len(got) < 2 {
		select {
		case l := <-lines:
			got = append(got, l)
		case <-timeout:
			t.Fatalf("proxied lines not logged, got %q", got)
		}
	}
	if !strings.HasPrefix(got[0], debuglog.Proxied) || !strings.HasSuffix(got[0], "playouts 1000") {
		t.Fatalf("unexpected line %q", got[0])
	}
	if !strings.HasSuffix(got[1], "winrate 0.55") {
		t.Fatalf("unexpected line %q", got[1])
	}
	<-done
}
