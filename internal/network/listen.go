// Package network opens the listeners peers connect to. Both transports
// hand out net.Conn values carrying the same line protocol.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"mcdist/internal/debuglog"
)

const (
	TCP  = "tcp"
	QUIC = "quic"
)

var ErrUnknownTransport = errors.New("unknown transport")

var currentConns atomic.Int64

// CurrentConns is the number of accepted connections not yet closed.
func CurrentConns() int64 { return currentConns.Load() }

type Options struct {
	// MaxConnsPerIP limits concurrent connections per source host, 0 for
	// no limit.
	MaxConnsPerIP int
}

// Listen opens a peer listener on addr.
func Listen(transport, addr string, opts Options) (net.Listener, error) {
	lim := newIPLimiter(opts.MaxConnsPerIP)
	switch transport {
	case "", TCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		return &limitedListener{Listener: ln, lim: lim}, nil
	case QUIC:
		ln, err := listenQUIC(addr)
		if err != nil {
			return nil, fmt.Errorf("listen quic %s: %w", addr, err)
		}
		return &limitedListener{Listener: ln, lim: lim}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}

type limitedListener struct {
	net.Listener
	lim *ipLimiter
}

// Accept skips connections over the per host limit.
func (l *limitedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		host := hostOf(conn.RemoteAddr())
		if !l.lim.acquire(host) {
			debuglog.Default().RateLimited("limit:"+host, connLimitLogEvery, debuglog.Problem, conn.RemoteAddr().String(), "too many connections, closing")
			_ = conn.Close()
			continue
		}
		currentConns.Add(1)
		return &limitedConn{Conn: conn, release: func() { l.lim.release(host) }}, nil
	}
}
