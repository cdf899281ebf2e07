package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mcdist/internal/debuglog"
	"mcdist/internal/network"
)

// runBridge lets a peer that only speaks TCP join a coordinator listening
// on QUIC: every local connection gets its own QUIC stream.
func runBridge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:1234", "local TCP address for the peer")
	coordinator := fs.String("coordinator", "", "coordinator QUIC address (host:port)")
	insecure := fs.Bool("insecure", false, "skip certificate verification (dev certificates)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *coordinator == "" {
		fmt.Fprintln(stderr, "missing --coordinator")
		return 1
	}
	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(stderr, "listen: %v\n", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(stdout, "bridging %s -> quic://%s\n", ln.Addr(), *coordinator)
	if err := bridge(ctx, ln, *coordinator, *insecure); err != nil {
		fmt.Fprintf(stderr, "bridge: %v\n", err)
		return 1
	}
	return 0
}

func bridge(ctx context.Context, ln net.Listener, coordinator string, insecure bool) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		local, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer local.Close()
			remote, err := network.DialQUIC(ctx, coordinator, insecure)
			if err != nil {
				debuglog.Logf(0, debuglog.Problem, local.RemoteAddr().String(), "dial %s: %v", coordinator, err)
				return
			}
			defer remote.Close()
			pipe(ctx, local, remote)
		}()
	}
}

// pipe copies both ways until one side closes or ctx is done.
func pipe(ctx context.Context, a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	select {
	case <-done:
	case <-ctx.Done():
	}
	_ = a.Close()
	_ = b.Close()
	<-done
}
