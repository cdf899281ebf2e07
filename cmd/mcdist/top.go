package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mcdist/internal/monitor"
)

const topInterval = time.Second

type statusMsg struct {
	st  monitor.Status
	err error
}

type topModel struct {
	addr    string
	st      monitor.Status
	err     error
	updated time.Time
}

func fetchStatus(addr string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), topInterval)
		defer cancel()
		st, err := monitor.Fetch(ctx, addr)
		return statusMsg{st: st, err: err}
	}
}

func (m topModel) Init() tea.Cmd {
	return fetchStatus(m.addr)
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.st = msg.st
			m.updated = time.Now()
		}
		return m, tea.Tick(topInterval, func(time.Time) tea.Msg { return fetchStatus(m.addr)() })
	}
	return m, nil
}

func (m topModel) View() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mcdist %s", m.addr)
	if !m.updated.IsZero() {
		fmt.Fprintf(&sb, "  (updated %s)", m.updated.Format("15:04:05"))
	}
	sb.WriteString("\n")
	if m.err != nil {
		fmt.Fprintf(&sb, "error: %v\n", m.err)
	}
	s := m.st.Metrics
	fmt.Fprintf(&sb, "Peers:     %d active, %d rejected\n", s.Peers.Active, s.Peers.Rejected)
	fmt.Fprintf(&sb, "Commands:  %d published, %d replies, %d out of sync\n",
		s.Commands.Published, s.Commands.Replies, s.Commands.OutOfSync)
	fmt.Fprintf(&sb, "Merges:    %d runs, %d aborted, %d nodes sent\n", s.Merge.Runs, s.Merge.Aborted, s.Merge.NodesSent)
	fmt.Fprintf(&sb, "Queue:     %d buffers, age %d\n\n", s.Queue.Length, s.Queue.Age)
	sb.WriteString("Slots:\n")
	for _, p := range m.st.Peers {
		sync := "resync"
		if p.InSync {
			sync = "in sync"
		}
		fmt.Fprintf(&sb, "  %3d %-21s %-16s %7d replies  %s\n", p.Slot, p.Addr, p.Name, p.Replies, sync)
	}
	sb.WriteString("\nRecent moves:\n")
	recent := s.Recent
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, d := range recent {
		fmt.Fprintf(&sb, "  %3d %-5s %-6s %8d playouts  %.1f%%\n", d.Move, d.Color, d.Coord, d.Playouts, 100*d.Value)
	}
	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}

func runTop(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "monitor address (host:port)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	p := tea.NewProgram(topModel{addr: *addr}, tea.WithOutput(stdout))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "top: %v\n", err)
		return 1
	}
	return 0
}
