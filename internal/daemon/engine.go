package daemon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"mcdist/internal/debuglog"
	"mcdist/internal/game"
	"mcdist/internal/metrics"
	"mcdist/internal/proto"
	"mcdist/internal/record"
	"mcdist/internal/stats"
)

// Commands the controller sends that peers never see, or see later in
// another form.
var (
	neverForwarded = []string{"uct_genbook", "uct_dumpbook", "kgs-chat", "time_left"}
	sentLater      = []string{"genmove", "kgs-genmove_cleanup", "final_score", "final_status_list"}
)

// Engine turns controller commands into coordinator dispatches.
type Engine struct {
	c   *Coordinator
	rec *record.Recorder

	// Last decision, for the winrate chat.
	lastColor game.Color
	lastMove  stats.Coord
	lastStats stats.Stats
}

// NewEngine returns an engine driving c. rec may be nil.
func NewEngine(c *Coordinator, rec *record.Recorder) *Engine {
	return &Engine{c: c, rec: rec, lastMove: stats.Pass}
}

func (e *Engine) Coordinator() *Coordinator { return e.c }

func forwarded(cmd string, slavesQuit bool) bool {
	match := func(s string) bool { return strings.EqualFold(s, cmd) }
	if strings.EqualFold(cmd, "quit") {
		return slavesQuit
	}
	return !slices.ContainsFunc(neverForwarded, match) && !slices.ContainsFunc(sentLater, match)
}

// Notify forwards a controller command to every peer before the board
// applies it. It waits for the replies so most peers stay in sync, up to
// the fast command wait. args is empty or ends with a newline.
func (e *Engine) Notify(ctx context.Context, b *game.Board, cmd, args string) error {
	if !forwarded(cmd, e.c.opts.SlavesQuit) {
		return nil
	}
	if proto.IsReset(cmd) {
		if proto.IsGameStart(cmd) {
			if size, err := parseSize(args); err == nil {
				e.c.SetBoardSize(size)
			}
		}
		e.endGame()
	}
	_, err := e.c.Dispatch(ctx, b.Moves(), cmd, args, e.c.opts.FastCmdWait)
	if errors.Is(err, ErrNoReplies) {
		// Peers that connect later replay the command.
		return nil
	}
	return err
}

func parseSize(args string) (int, error) {
	var n int
	if _, err := fmt.Sscan(args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *Engine) endGame() {
	path, err := e.rec.NewGame()
	if err != nil {
		e.c.log.Logf(0, debuglog.Problem, "", "record: %v", err)
		return
	}
	if path != "" {
		e.c.log.Logf(1, debuglog.Info, "", "recorded %s", path)
	}
}

// Close writes the game in progress.
func (e *Engine) Close() error {
	_, err := e.rec.Flush()
	return err
}

func genmovesArgs(b *game.Board, color game.Color, played int, clock game.Clock, sel *Selection) string {
	a := proto.GenmovesArgs{
		Color:  color.String(),
		Played: played,
		Binary: true,
	}
	if clock.Enabled() {
		a.Time = &proto.TimeControl{
			Main:    clock.Main.Seconds(),
			Byoyomi: clock.Byoyomi.Seconds(),
			Periods: clock.Periods,
			Stones:  clock.Stones,
		}
	}
	if sel != nil {
		a.Moves = sel.Above(b, sel.BestStats().U.Playouts/100)
	}
	return a.String()
}

// Genmove asks every peer to search the position and returns the move with
// the most pooled playouts. Peers are refreshed with the pooled stats of
// the root children every stats interval until most of them stop wanting
// to look, the time budget runs out or, without time control, the pooled
// playouts reach the games target. The genmoves command is finally replaced
// by the play of the chosen move.
//
// Genmove fails with ErrNoReplies rather than picking a move when no peer
// answered within the budget.
func (e *Engine) Genmove(ctx context.Context, b *game.Board, clock game.Clock, color game.Color, cleanup bool) (stats.Coord, error) {
	c := e.c
	cmd := proto.CmdGenmoves
	if cleanup {
		cmd = proto.CmdGenmovesCleanup
	}
	first := time.Now()
	budget := clock.Budget(b.Size(), b.Moves())
	limit := budget
	if limit <= 0 {
		limit = c.opts.GenmoveWait
	}

	c.mu.Lock()
	c.clearQueueLocked()
	c.publishLocked(b.Moves(), cmd, genmovesArgs(b, color, 0, clock, nil))

	var enough enoughFunc
	if budget <= 0 {
		enough = func(replies []string) bool { return pooledPlayed(replies) >= c.opts.Games }
	}
	var sel Selection
	for {
		now := time.Now()
		replies, err := c.getRepliesLocked(ctx, now.Add(c.opts.StatsInterval), c.opts.MaxSlaves, enough)
		elapsed := time.Since(first)
		if err != nil && !errors.Is(err, ErrNoReplies) {
			c.unlock()
			return stats.Pass, err
		}
		if errors.Is(err, ErrNoReplies) {
			if elapsed >= limit {
				c.unlock()
				return stats.Pass, ErrNoReplies
			}
			continue
		}
		sel = selectBestMove(b, replies)
		if !sel.KeepLooking {
			break
		}
		if budget > 0 {
			if elapsed >= budget {
				break
			}
		} else if sel.Played >= c.opts.Games {
			break
		}
		if c.log.Enabled(2) {
			best := sel.BestStats().U
			c.logfLocked(2, debuglog.Decision, "",
				"temp winner is %s %s with score %1.4f (%d/%d games) %d slaves %d threads",
				color, b.Vertex(sel.Best), valueFor(best.Value, color),
				best.Playouts, sel.Playouts, sel.Replies, sel.Threads)
		}
		left := clock
		if left.Main > 0 {
			left.Main = max(clock.Main-elapsed, 0)
		}
		// Same id, so replies to the previous version still count.
		c.updateLocked(b.Moves(), cmd, genmovesArgs(b, color, sel.Played, left, &sel))
	}

	best := sel.BestStats().U
	e.lastColor, e.lastMove, e.lastStats = color, sel.Best, best
	coord := b.Vertex(sel.Best)
	// History must never replay a genmoves.
	c.replaceLocked(b.Moves(), "play", fmt.Sprintf("%s %s\n", color, coord))
	c.unlock()

	elapsed := time.Since(first)
	secs := elapsed.Seconds() + 0.000001
	if c.log.Enabled(1) {
		c.log.Logf(1, debuglog.Decision, "",
			"GLOBAL WINNER is %s %s with score %1.4f (%d/%d games)", color, coord,
			valueFor(best.Value, color), best.Playouts, sel.Playouts)
		c.log.Logf(1, debuglog.Decision, "",
			"genmove %d games in %0.2fs %d slaves %d threads (%d games/s, %d games/s/slave, %d games/s/thread)",
			sel.Played, secs, sel.Replies, sel.Threads, int(float64(sel.Played)/secs),
			int(float64(sel.Played)/secs/float64(max(sel.Replies, 1))),
			int(float64(sel.Played)/secs/float64(max(sel.Threads, 1))))
	}
	d := metrics.Decision{
		Move:      b.Moves(),
		Color:     color.String(),
		Coord:     coord,
		Playouts:  best.Playouts,
		Value:     valueFor(best.Value, color),
		Total:     sel.Playouts,
		Replies:   sel.Replies,
		ElapsedMS: elapsed.Milliseconds(),
	}
	c.metrics.Recent().Add(d)
	e.rec.Add(record.Row{
		Move:      int32(d.Move),
		Color:     d.Color,
		Coord:     d.Coord,
		Playouts:  int32(d.Playouts),
		Value:     float32(d.Value),
		Total:     int64(d.Total),
		Replies:   int32(d.Replies),
		Threads:   int32(sel.Threads),
		ElapsedMS: d.ElapsedMS,
	})
	return sel.Best, nil
}

// pooledPlayed sums the playouts the peers ran for the current genmoves.
func pooledPlayed(replies []string) int {
	n := 0
	for _, r := range replies {
		if g, err := proto.ParseGenmoves(r); err == nil {
			n += g.Played
		}
	}
	return n
}

// DeadGroups asks every peer for its dead stones and returns one vertex of
// each group listed in the most popular answer.
func (e *Engine) DeadGroups(ctx context.Context, b *game.Board) ([]stats.Coord, error) {
	replies, err := e.c.Dispatch(ctx, b.Moves(), "final_status_list", "dead\n", e.c.opts.FastCmdWait)
	if err != nil {
		return nil, err
	}
	best := mostPopular(replies)
	var dead []stats.Coord
	body := proto.Reply{Text: best}.Body()
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if c, err := b.Coord(fields[0]); err == nil {
			dead = append(dead, c)
		}
	}
	return dead, nil
}

// mostPopular returns the reply given by the most peers, comparing whole
// replies case insensitively.
func mostPopular(replies []string) string {
	if len(replies) == 0 {
		return ""
	}
	sorted := slices.Clone(replies)
	slices.SortFunc(sorted, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	best, bestCount, count := 0, 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			count++
		} else {
			count = 1
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	return sorted[best]
}

// Chat answers a kgs-chat message; ok is false when there is nothing to
// say.
func (e *Engine) Chat(b *game.Board, text string) (string, bool) {
	text = strings.TrimLeft(text, " \n\t")
	if len(text) < 7 || !strings.EqualFold(text[:7], "winrate") {
		return "", false
	}
	return fmt.Sprintf("In %d playouts at %d machines, %s %s can win with %.2f%% probability.",
		e.lastStats.Playouts, e.c.Active(), e.lastColor, b.Vertex(e.lastMove),
		100*valueFor(e.lastStats.Value, e.lastColor)), true
}
