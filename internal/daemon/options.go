package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mcdist/internal/network"
)

const (
	defaultMaxSlaves     = 100
	defaultSharedNodes   = 10240
	defaultStatsHashBits = 18
	defaultGames         = 80000
	defaultFastCmdWait   = time.Second
	defaultStatsInterval = 100 * time.Millisecond
	defaultGenmoveWait   = 30 * time.Second
	defaultSnapInterval  = time.Second
)

var ErrMissingPort = errors.New("missing slave_port")

// Options are the engine arguments plus environment tunables.
type Options struct {
	SlavePort     string
	ProxyPort     string
	MonitorPort   string
	RecordDir     string
	Transport     string
	MaxSlaves     int
	SlavesQuit    bool
	SharedNodes   int
	StatsHashBits int
	MaxConnsPerIP int

	// Games is the pooled playout target per move without time control.
	Games int
	// FastCmdWait bounds the wait for replies to ordinary commands.
	FastCmdWait time.Duration
	// StatsInterval is how often genmoves is refreshed with pooled stats.
	StatsInterval time.Duration
	// GenmoveWait bounds a genmove without time control when no peer
	// answers at all.
	GenmoveWait time.Duration
	// SnapshotPath, if set, receives the metrics snapshot every second.
	SnapshotPath string
}

func DefaultOptions() Options {
	return Options{
		Transport:     network.TCP,
		MaxSlaves:     defaultMaxSlaves,
		SharedNodes:   defaultSharedNodes,
		StatsHashBits: defaultStatsHashBits,
		Games:         envIntDefault("MCDIST_GAMES", defaultGames),
		FastCmdWait:   envDuration("MCDIST_FAST_CMD_WAIT_MS", defaultFastCmdWait),
		StatsInterval: envDuration("MCDIST_STATS_INTERVAL_MS", defaultStatsInterval),
		GenmoveWait:   envDuration("MCDIST_GENMOVE_WAIT_MS", defaultGenmoveWait),
		MaxConnsPerIP: envIntDefault("MCDIST_MAX_CONNS_PER_IP", 0),
	}
}

// ParseOptions parses comma separated key=value engine arguments such as
// "slave_port=1234,max_slaves=24,slaves_quit". Unknown keys and keys
// missing their value are returned as warnings.
func ParseOptions(arg string) (Options, []string, error) {
	opts := DefaultOptions()
	var warnings []string
	for _, kv := range strings.Split(arg, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, val, hasVal := strings.Cut(kv, "=")
		name = strings.ToLower(name)
		bad := func() {
			warnings = append(warnings, fmt.Sprintf("invalid engine argument %s or missing value", name))
		}
		switch {
		case name == "slave_port" && hasVal:
			opts.SlavePort = val
		case name == "proxy_port" && hasVal:
			opts.ProxyPort = val
		case name == "monitor_port" && hasVal:
			opts.MonitorPort = val
		case name == "record_dir" && hasVal:
			opts.RecordDir = val
		case name == "transport" && hasVal:
			if val != network.TCP && val != network.QUIC {
				bad()
				continue
			}
			opts.Transport = val
		case name == "slaves_quit":
			opts.SlavesQuit = !hasVal || atoi(val) != 0
		case name == "max_slaves" && hasVal:
			if n := atoi(val); n > 0 {
				opts.MaxSlaves = n
			} else {
				bad()
			}
		case name == "shared_nodes" && hasVal:
			if n := atoi(val); n > 0 {
				opts.SharedNodes = n
			} else {
				bad()
			}
		case name == "stats_hbits" && hasVal:
			if n := atoi(val); n > 0 {
				opts.StatsHashBits = n
			} else {
				bad()
			}
		default:
			bad()
		}
	}
	if opts.SlavePort == "" {
		return opts, warnings, ErrMissingPort
	}
	return opts, warnings, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// listenAddr accepts either a bare port or host:port.
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envIntDefault(key string, def int) int {
	if v, ok := envInt(key); ok && v >= 0 {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := envInt(key); ok && v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}
