package daemon

import (
	"errors"
	"testing"
	"time"

	"mcdist/internal/network"
)

func TestParseOptions(t *testing.T) {
	opts, warnings, err := ParseOptions("slave_port=1234,proxy_port=1235,max_slaves=24,slaves_quit")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	if opts.SlavePort != "1234" || opts.ProxyPort != "1235" || opts.MaxSlaves != 24 || !opts.SlavesQuit {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Transport != network.TCP || opts.SharedNodes != defaultSharedNodes || opts.StatsHashBits != defaultStatsHashBits {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestParseOptionsSlavesQuitValue(t *testing.T) {
	opts, _, err := ParseOptions("slave_port=1234,slaves_quit=0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.SlavesQuit {
		t.Fatalf("slaves_quit=0 must disable")
	}
}

func TestParseOptionsWarnings(t *testing.T) {
	opts, warnings, err := ParseOptions("slave_port=1234,bogus=1,max_slaves,transport=udp,stats_hbits=x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(warnings) != 4 {
		t.Fatalf("expected 4 warnings, got %v", warnings)
	}
	if opts.MaxSlaves != defaultMaxSlaves || opts.Transport != network.TCP || opts.StatsHashBits != defaultStatsHashBits {
		t.Fatalf("bad values must keep defaults: %+v", opts)
	}
}

func TestParseOptionsMissingPort(t *testing.T) {
	if _, _, err := ParseOptions("proxy_port=1235"); !errors.Is(err, ErrMissingPort) {
		t.Fatalf("expected ErrMissingPort, got %v", err)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("MCDIST_GAMES", "5000")
	t.Setenv("MCDIST_FAST_CMD_WAIT_MS", "250")
	t.Setenv("MCDIST_STATS_INTERVAL_MS", "oops")
	opts := DefaultOptions()
	if opts.Games != 5000 || opts.FastCmdWait != 250*time.Millisecond {
		t.Fatalf("env not applied: %+v", opts)
	}
	if opts.StatsInterval != defaultStatsInterval {
		t.Fatalf("bad env value must keep the default, got %s", opts.StatsInterval)
	}
}

func TestListenAddr(t *testing.T) {
	if listenAddr("1234") != ":1234" || listenAddr("127.0.0.1:1234") != "127.0.0.1:1234" {
		t.Fatalf("unexpected listen addresses")
	}
}
