// Package monitor serves the coordinator's state over HTTP: a JSON status
// document on /status and the live diagnostic log on /logs (websocket).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"mcdist/internal/debuglog"
	"mcdist/internal/metrics"
	"mcdist/internal/peer"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Status is the document served on /status.
type Status struct {
	Metrics metrics.Snapshot `json:"metrics"`
	Peers   []peer.Peer      `json:"peers"`
	CmdID   int              `json:"cmd_id"`
}

// Source supplies what the monitor reports.
type Source struct {
	Metrics *metrics.Metrics
	Peers   *peer.Registry
	Log     *debuglog.Logger
	// CmdID returns the id of the current command.
	CmdID func() int
}

type Server struct {
	src      Source
	upgrader websocket.Upgrader
}

func New(src Source) *Server {
	if src.Log == nil {
		src.Log = debuglog.Default()
	}
	return &Server{
		src: src,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.serveStatus)
	mux.HandleFunc("/logs", s.serveLogs)
	return mux
}

// Status collects the current status document.
func (s *Server) Status() Status {
	st := Status{CmdID: -1}
	if s.src.Metrics != nil {
		st.Metrics = s.src.Metrics.Snapshot()
	}
	if s.src.Peers != nil {
		st.Peers = s.src.Peers.List()
	}
	if s.src.CmdID != nil {
		st.CmdID = s.src.CmdID()
	}
	return st
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	data, err := sonnet.Marshal(s.Status())
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// serveLogs streams every diagnostic line as one text message. A slow
// client misses lines instead of slowing the coordinator down.
func (s *Server) serveLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.src.Log.Logf(1, debuglog.Problem, r.RemoteAddr, "upgrade: %v", err)
		return
	}
	defer conn.Close()
	lines, cancel := s.src.Log.Subscribe()
	defer cancel()

	// Reader: only there to notice the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case line := <-lines:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Fetch reads the status document of a running coordinator.
func Fetch(ctx context.Context, addr string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := sonnet.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
