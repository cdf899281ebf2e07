package daemon

import (
	"bufio"
	"context"
	"errors"
	"net"

	"mcdist/internal/debuglog"
	"mcdist/internal/proto"
)

// serveProxy mirrors every line a peer writes to the log port into the
// diagnostic log. It is independent of the protocol state.
func (c *Coordinator) serveProxy(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c.proxyLines(ctx, nc)
	}
}

func (c *Coordinator) proxyLines(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()
	addr := nc.RemoteAddr().String()
	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, 1024), proto.MaxLineSize)
	for sc.Scan() {
		c.log.Logline(debuglog.Proxied, addr, sc.Text())
	}
}
