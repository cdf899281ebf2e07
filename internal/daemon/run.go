package daemon

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"mcdist/internal/debuglog"
	"mcdist/internal/monitor"
	"mcdist/internal/network"
)

// Listeners are the sockets Serve runs on. Proxy and Monitor are optional.
type Listeners struct {
	Peers     net.Listener
	Transport string
	Proxy     net.Listener
	Monitor   net.Listener
}

// Listen opens the sockets named by the options.
func (c *Coordinator) Listen() (Listeners, error) {
	var ls Listeners
	if c.opts.SlavePort == "" {
		return ls, ErrMissingPort
	}
	transport := c.opts.Transport
	if transport == "" {
		transport = network.TCP
	}
	ln, err := network.Listen(transport, listenAddr(c.opts.SlavePort), network.Options{MaxConnsPerIP: c.opts.MaxConnsPerIP})
	if err != nil {
		return ls, fmt.Errorf("listen slave_port: %w", err)
	}
	ls.Peers, ls.Transport = ln, transport
	if c.opts.ProxyPort != "" {
		if ls.Proxy, err = net.Listen("tcp", listenAddr(c.opts.ProxyPort)); err != nil {
			ls.Close()
			return ls, fmt.Errorf("listen proxy_port: %w", err)
		}
	}
	if c.opts.MonitorPort != "" {
		if ls.Monitor, err = net.Listen("tcp", listenAddr(c.opts.MonitorPort)); err != nil {
			ls.Close()
			return ls, fmt.Errorf("listen monitor_port: %w", err)
		}
	}
	return ls, nil
}

func (ls Listeners) Close() {
	for _, ln := range []net.Listener{ls.Peers, ls.Proxy, ls.Monitor} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// Run listens and serves until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ls, err := c.Listen()
	if err != nil {
		return err
	}
	return c.Serve(ctx, ls)
}

// Serve runs one worker per peer slot, one proxy worker per slot and the
// monitor until ctx is done. It closes the listeners on return.
func (c *Coordinator) Serve(ctx context.Context, ls Listeners) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ls.Close()
		return nil
	})
	c.log.Logf(1, debuglog.Info, "", "listening for %d slaves on %s (%s)", c.opts.MaxSlaves, ls.Peers.Addr(), ls.Transport)
	for id := 0; id < c.opts.MaxSlaves; id++ {
		g.Go(func() error { return c.runSlot(ctx, id, ls.Peers, ls.Transport) })
		if ls.Proxy != nil {
			g.Go(func() error { return c.serveProxy(ctx, ls.Proxy) })
		}
	}
	if ls.Monitor != nil {
		srv := monitor.New(monitor.Source{
			Metrics: c.metrics,
			Peers:   c.peers,
			Log:     c.log,
			CmdID:   c.CurrentID,
		})
		c.log.Logf(1, debuglog.Info, "", "monitor on http://%s/status", ls.Monitor.Addr())
		g.Go(func() error { return srv.Serve(ctx, ls.Monitor) })
	}
	if c.opts.SnapshotPath != "" || c.log.Enabled(3) {
		g.Go(func() error { return c.writeSnapshots(ctx) })
	}
	return g.Wait()
}

func (c *Coordinator) writeSnapshots(ctx context.Context) error {
	ticker := time.NewTicker(defaultSnapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.log.Enabled(3) {
				c.logHashCounts()
			}
			if c.opts.SnapshotPath == "" {
				continue
			}
			if err := c.metrics.WriteSnapshot(c.opts.SnapshotPath); err != nil {
				c.log.RateLimited("snapshot", time.Minute, debuglog.Problem, "", fmt.Sprintf("snapshot: %v", err))
			}
		}
	}
}

func (c *Coordinator) logHashCounts() {
	h := &c.counts
	c.log.Logf(3, debuglog.Info, "", "hash lookups %d collisions %d inserts %d occupied %d",
		h.Lookups.Load(), h.Collisions.Load(), h.Inserts.Load(), h.Occupied.Load())
}
