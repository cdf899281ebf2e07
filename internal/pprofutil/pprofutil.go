// Package pprofutil serves net/http/pprof next to the coordinator when
// MCDIST_PPROF=1.
package pprofutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"time"

	"mcdist/internal/debuglog"
)

const defaultAddr = "127.0.0.1:6060"

// Config is read from MCDIST_PPROF, MCDIST_PPROF_ADDR and
// MCDIST_PPROF_ALLOW_PUBLIC.
type Config struct {
	Enabled     bool
	Addr        string
	AllowPublic bool
}

func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:     strings.TrimSpace(os.Getenv("MCDIST_PPROF")) == "1",
		Addr:        strings.TrimSpace(os.Getenv("MCDIST_PPROF_ADDR")),
		AllowPublic: strings.TrimSpace(os.Getenv("MCDIST_PPROF_ALLOW_PUBLIC")) == "1",
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	return cfg
}

// Start serves the profiler until ctx is done and returns the bound
// address, or "" when disabled. Public binds are refused unless allowed.
func Start(ctx context.Context, cfg Config, log *debuglog.Logger) (string, error) {
	if !cfg.Enabled {
		return "", nil
	}
	if !cfg.AllowPublic && !loopback(cfg.Addr) {
		return "", fmt.Errorf("pprof address %s is not loopback (set MCDIST_PPROF_ALLOW_PUBLIC=1)", cfg.Addr)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("pprof listen: %w", err)
	}
	addr := ln.Addr().String()
	srv := &http.Server{Handler: http.DefaultServeMux, ReadHeaderTimeout: 5 * time.Second}
	context.AfterFunc(ctx, func() { _ = srv.Close() })
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Logline(debuglog.Problem, addr, "pprof: "+err.Error())
		}
	}()
	if log != nil {
		log.Logf(1, debuglog.Info, addr, "pprof on http://%s/debug/pprof/", addr)
	}
	return addr, nil
}

func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
