// Command mcdist runs the distributed search coordinator behind a GTP
// controller and inspects a running one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mcdist/internal/daemon"
	"mcdist/internal/debuglog"
	"mcdist/internal/gtp"
	"mcdist/internal/metrics"
	"mcdist/internal/monitor"
	"mcdist/internal/pprofutil"
	"mcdist/internal/record"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runCoordinator(args[1:], os.Stdin, stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "top":
		return runTop(args[1:], stdout, stderr)
	case "bridge":
		return runBridge(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: mcdist <run|status|top|bridge> [args]")
	fmt.Fprintln(w, "  run    -e slave_port=<port>[,proxy_port=<port>,max_slaves=<n>,slaves_quit,...] [-d <level>] [--json]")
	fmt.Fprintln(w, "  status --addr <monitor host:port> | --file <snapshot.json>")
	fmt.Fprintln(w, "  top    --addr <monitor host:port>")
	fmt.Fprintln(w, "  bridge --listen <host:port> --coordinator <host:port> [--insecure]")
}

// debugLevel reads MCDIST_DEBUG, the default for -d.
func debugLevel() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MCDIST_DEBUG")))
	if err != nil || n < 0 {
		return 1
	}
	return n
}

func runCoordinator(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	engineArgs := fs.String("e", "", "engine arguments: comma separated key=value pairs")
	level := fs.Int("d", debugLevel(), "debug level")
	asJSON := fs.Bool("json", false, "write the diagnostic log as JSON lines")
	snapshot := fs.String("snapshot", "", "write a metrics snapshot to this file every second")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	log := debuglog.New(stderr, *level, *asJSON)
	debuglog.SetDefault(log)

	opts, warnings, err := daemon.ParseOptions(*engineArgs)
	for _, w := range warnings {
		log.Logline(debuglog.Problem, "", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "engine arguments: %v\n", err)
		return 1
	}
	opts.SnapshotPath = *snapshot

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := pprofutil.Start(ctx, pprofutil.ConfigFromEnv(), log); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
		return 1
	}

	m := metrics.New()
	c := daemon.New(opts, daemon.Deps{Log: log, Metrics: m})
	ls, err := c.Listen()
	if err != nil {
		fmt.Fprintf(stderr, "listen: %v\n", err)
		return 1
	}
	var rec *record.Recorder
	if opts.RecordDir != "" {
		rec = record.New(opts.RecordDir)
	}
	eng := daemon.NewEngine(c, rec)

	ctx, cancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- c.Serve(ctx, ls) }()

	front := gtp.NewServer(eng, "mcdist", version, log)
	ended := make(chan error, 1)
	go func() { ended <- front.Run(ctx, stdin, stdout) }()
	code := 0
	select {
	case err := <-ended:
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "gtp: %v\n", err)
			code = 1
		}
	case <-ctx.Done():
	}
	cancel()
	if err := <-served; err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		code = 1
	}
	if err := eng.Close(); err != nil {
		fmt.Fprintf(stderr, "record: %v\n", err)
		code = 1
	}
	return code
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "monitor address (host:port)")
	file := fs.String("file", "", "metrics snapshot file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var st monitor.Status
	switch {
	case *addr != "":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if st, err = monitor.Fetch(ctx, *addr); err != nil {
			fmt.Fprintf(stderr, "status: %v\n", err)
			return 1
		}
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(stderr, "status: %v\n", err)
			return 1
		}
		if st.Metrics, err = metrics.ReadSnapshot(data); err != nil {
			fmt.Fprintf(stderr, "status: %v\n", err)
			return 1
		}
		st.CmdID = -1
	default:
		fmt.Fprintln(stderr, "missing --addr or --file")
		return 1
	}
	printStatus(stdout, st)
	return 0
}

func printStatus(w io.Writer, st monitor.Status) {
	s := st.Metrics
	fmt.Fprintln(w, "Coordinator summary:")
	fmt.Fprintf(w, "  active peers: %d (connected=%d lost=%d rejected=%d)\n",
		s.Peers.Active, s.Peers.Connected, s.Peers.Lost, s.Peers.Rejected)
	fmt.Fprintf(w, "  commands: published=%d replies=%d out_of_sync=%d no_replies=%d\n",
		s.Commands.Published, s.Commands.Replies, s.Commands.OutOfSync, s.Commands.NoReplies)
	fmt.Fprintf(w, "  resends: partial=%d full=%d\n", s.Commands.ResendPartial, s.Commands.ResendFull)
	fmt.Fprintf(w, "  merges: runs=%d aborted=%d merged=%d sent=%d in=%d\n",
		s.Merge.Runs, s.Merge.Aborted, s.Merge.NodesMerged, s.Merge.NodesSent, s.Merge.NodesIn)
	fmt.Fprintf(w, "  queue: length=%d age=%d\n", s.Queue.Length, s.Queue.Age)
	if st.CmdID >= 0 {
		fmt.Fprintf(w, "  current command id: %d\n", st.CmdID)
	}
	for _, p := range st.Peers {
		fmt.Fprintf(w, "  slot %d %s %s (%s) replies=%d resends=%d in_sync=%v\n",
			p.Slot, p.Addr, p.Name, p.Transport, p.Replies, p.Resends, p.InSync)
	}
	for _, d := range s.Recent {
		fmt.Fprintf(w, "  move %d %s %s %d/%d playouts value %.3f (%d replies, %dms)\n",
			d.Move, d.Color, d.Coord, d.Playouts, d.Total, d.Value, d.Replies, d.ElapsedMS)
	}
}
