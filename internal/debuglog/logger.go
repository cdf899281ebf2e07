// Package debuglog writes the coordinator's diagnostic lines.
//
// Every line has the form "<prefix><addr> <seconds>: <message>" with the
// address right aligned on 15 columns and the time measured from process
// start. Writes go through a zerolog logger over a synchronized writer;
// that writer's mutex is the only lock taken here, so logging never waits
// on coordinator state.
package debuglog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Prefixes used across the coordinator.
const (
	Info     = "= "
	Problem  = "? "
	Sent     = ">>"
	Received = "<<"
	Decision = "* "
	Proxied  = "< "
)

const subscriberQueue = 256

var start = time.Now()

type Logger struct {
	zl    zerolog.Logger
	json  bool
	level atomic.Int32

	subMu sync.Mutex
	subs  map[chan string]struct{}

	rlMu    sync.Mutex
	rlLast  map[string]time.Time
	rlSweep time.Time
}

// New logs to w at the given verbosity. With asJSON each line becomes a
// JSON object with prefix, addr and elapsed fields instead of plain text.
func New(w io.Writer, level int, asJSON bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	var out io.Writer = w
	if !asJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    true,
			PartsOrder: []string{zerolog.MessageFieldName},
		}
	}
	l := &Logger{
		zl:      zerolog.New(zerolog.SyncWriter(out)),
		json:    asJSON,
		subs:    make(map[chan string]struct{}),
		rlLast:  make(map[string]time.Time),
		rlSweep: time.Now(),
	}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) SetLevel(level int) { l.level.Store(int32(level)) }
func (l *Logger) Level() int         { return int(l.level.Load()) }

// Enabled reports whether lines of verbosity n are written.
func (l *Logger) Enabled(n int) bool { return n <= l.Level() }

// Format renders a line without writing it.
func Format(prefix, addr, msg string) string {
	return fmt.Sprintf("%s%15s %9.3f: %s", prefix, addr, time.Since(start).Seconds(), msg)
}

// Logline writes one line unconditionally. Messages spanning several
// lines are written as is.
func (l *Logger) Logline(prefix, addr, msg string) {
	msg = strings.TrimSuffix(msg, "\n")
	line := Format(prefix, addr, msg)
	if l.json {
		l.zl.Log().
			Str("prefix", strings.TrimSpace(prefix)).
			Str("addr", addr).
			Float64("elapsed", time.Since(start).Seconds()).
			Msg(msg)
	} else {
		l.zl.Log().Msg(line)
	}
	l.publish(line)
}

// Logf writes a formatted line when verbosity n is enabled.
func (l *Logger) Logf(n int, prefix, addr, format string, args ...any) {
	if !l.Enabled(n) {
		return
	}
	l.Logline(prefix, addr, fmt.Sprintf(format, args...))
}

// RateLimited writes at most one line per key and interval.
func (l *Logger) RateLimited(key string, interval time.Duration, prefix, addr, msg string) {
	if key == "" {
		return
	}
	now := time.Now()
	l.rlMu.Lock()
	if now.Sub(l.rlLast[key]) < interval {
		l.rlMu.Unlock()
		return
	}
	l.rlLast[key] = now
	if now.Sub(l.rlSweep) > 2*interval {
		for k, ts := range l.rlLast {
			if now.Sub(ts) > 4*interval {
				delete(l.rlLast, k)
			}
		}
		l.rlSweep = now
	}
	l.rlMu.Unlock()
	l.Logline(prefix, addr, msg)
}

// Subscribe returns a stream of every line written from now on and a
// function ending the subscription. Lines are dropped for a subscriber
// that does not keep up.
func (l *Logger) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberQueue)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, ch)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

func (l *Logger) publish(line string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- line:
		default:
			// Drop when saturated so a slow viewer never stalls a peer worker.
		}
	}
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(New(os.Stderr, 0, false))
}

// Default is the process wide logger.
func Default() *Logger { return global.Load() }

func SetDefault(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

func Logf(n int, prefix, addr, format string, args ...any) {
	Default().Logf(n, prefix, addr, format, args...)
}

func Enabled(n int) bool { return Default().Enabled(n) }
