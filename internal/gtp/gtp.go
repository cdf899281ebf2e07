// Package gtp is the controller side front end: it reads Go Text Protocol
// commands, keeps the board and clocks, and hands the work to the
// distributed engine.
package gtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"mcdist/internal/debuglog"
	"mcdist/internal/game"
	"mcdist/internal/stats"
)

// Engine is what the front end needs from the coordinator.
type Engine interface {
	Notify(ctx context.Context, b *game.Board, cmd, args string) error
	Genmove(ctx context.Context, b *game.Board, clock game.Clock, color game.Color, cleanup bool) (stats.Coord, error)
	DeadGroups(ctx context.Context, b *game.Board) ([]stats.Coord, error)
	Chat(b *game.Board, text string) (string, bool)
}

type request struct {
	ctx  context.Context
	s    *Server
	name string
	args []string
}

type response struct {
	message string
	success bool
}

func success(message string) response { return response{message, true} }
func failure(message string) response { return response{message, false} }

func (r response) format(id int) string {
	prefix := "="
	if !r.success {
		prefix = "?"
	}
	if id >= 0 {
		prefix += strconv.Itoa(id)
	}
	return prefix + " " + r.message + "\n\n"
}

type handler func(req request) response

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		"boardsize":           handleBoardsize,
		"clear_board":         func(req request) response { req.s.board.Clear(); return success("") },
		"final_status_list":   handleFinalStatusList,
		"genmove":             handleGenmove,
		"kgs-chat":            handleChat,
		"kgs-genmove_cleanup": handleGenmove,
		"kgs-rules":           func(req request) response { return success("") },
		"known_command":       handleKnownCommand,
		"komi":                handleKomi,
		"list_commands":       handleListCommands,
		"name":                func(req request) response { return success(req.s.name) },
		"play":                handlePlay,
		"protocol_version":    func(req request) response { return success("2") },
		"quit":                func(req request) response { return success("") },
		"set_free_handicap":   handleFreeHandicap,
		"time_left":           handleTimeLeft,
		"time_settings":       handleTimeSettings,
		"version":             func(req request) response { return success(req.s.version) },
	}
}

// Server keeps the controller's view of the game.
type Server struct {
	eng     Engine
	board   *game.Board
	clocks  map[game.Color]game.Clock
	name    string
	version string
	log     *debuglog.Logger
}

func NewServer(eng Engine, name, version string, log *debuglog.Logger) *Server {
	if log == nil {
		log = debuglog.Default()
	}
	b, _ := game.NewBoard(19)
	return &Server{
		eng:     eng,
		board:   b,
		clocks:  make(map[game.Color]game.Clock),
		name:    name,
		version: version,
		log:     log,
	}
}

func (s *Server) Board() *game.Board { return s.board }

// Run executes commands from input until quit, end of input or ctx is
// done. Blank lines and comments are skipped. An optional numeric id is
// echoed in the response.
func (s *Server) Run(ctx context.Context, input io.Reader, out io.Writer) error {
	in := bufio.NewReader(input)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, name, args, err := parseCommand(in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		resp := s.execute(ctx, name, args)
		if _, err := io.WriteString(out, resp.format(id)); err != nil {
			return err
		}
		if name == "quit" {
			return nil
		}
	}
}

// execute runs one command. Known commands are first forwarded to the
// engine, which decides what the peers must see.
func (s *Server) execute(ctx context.Context, name string, args []string) response {
	name = strings.ToLower(name)
	h, ok := handlers[name]
	if !ok {
		return failure("unknown command")
	}
	argText := ""
	if len(args) > 0 {
		argText = strings.Join(args, " ") + "\n"
	}
	if err := s.eng.Notify(ctx, s.board, name, argText); err != nil {
		s.log.Logf(1, debuglog.Problem, "", "notify %s: %v", name, err)
	}
	return h(request{ctx: ctx, s: s, name: name, args: args})
}

func parseCommand(in *bufio.Reader) (id int, name string, args []string, err error) {
	for {
		line, err := in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return -1, "", nil, err
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			if err != nil {
				return -1, "", nil, err
			}
			continue
		}
		id = -1
		if n, convErr := strconv.Atoi(words[0]); convErr == nil {
			id = n
			words = words[1:]
			if len(words) == 0 {
				continue
			}
		}
		return id, words[0], words[1:], nil
	}
}

func handleKnownCommand(req request) response {
	if len(req.args) != 1 {
		return failure("wrong number of arguments")
	}
	_, ok := handlers[req.args[0]]
	return success(fmt.Sprint(ok))
}

func handleListCommands(req request) response {
	if len(req.args) != 0 {
		return failure("wrong number of arguments")
	}
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return success(strings.Join(names, "\n"))
}

func handleBoardsize(req request) response {
	if len(req.args) != 1 {
		return failure("wrong number of arguments")
	}
	size, err := strconv.Atoi(req.args[0])
	if err != nil {
		return failure("unacceptable size")
	}
	if err := req.s.board.SetSize(size); err != nil {
		return failure("unacceptable size")
	}
	return success("")
}

func handleKomi(req request) response {
	if len(req.args) != 1 {
		return failure("wrong number of arguments")
	}
	komi, err := strconv.ParseFloat(req.args[0], 64)
	if err != nil {
		return failure("syntax error")
	}
	req.s.board.SetKomi(komi)
	return success("")
}

func handlePlay(req request) response {
	if len(req.args) != 2 {
		return failure("wrong number of arguments")
	}
	color, err := game.ParseColor(req.args[0])
	if err != nil {
		return failure("syntax error")
	}
	c, err := req.s.board.Coord(req.args[1])
	if err != nil {
		return failure("syntax error")
	}
	if err := req.s.board.Play(color, c); err != nil {
		return failure("illegal move")
	}
	return success("")
}

func handleGenmove(req request) response {
	if len(req.args) != 1 {
		return failure("wrong number of arguments")
	}
	color, err := game.ParseColor(req.args[0])
	if err != nil {
		return failure("syntax error")
	}
	b := req.s.board
	cleanup := req.name == "kgs-genmove_cleanup"
	move, err := req.s.eng.Genmove(req.ctx, b, req.s.clocks[color], color, cleanup)
	if err != nil {
		return failure(err.Error())
	}
	if err := b.Play(color, move); err != nil {
		return failure(err.Error())
	}
	return success(b.Vertex(move))
}

func handleFinalStatusList(req request) response {
	if len(req.args) != 1 {
		return failure("wrong number of arguments")
	}
	if !strings.EqualFold(req.args[0], "dead") {
		return success("")
	}
	dead, err := req.s.eng.DeadGroups(req.ctx, req.s.board)
	if err != nil {
		return failure(err.Error())
	}
	vertices := make([]string, len(dead))
	for i, c := range dead {
		vertices[i] = req.s.board.Vertex(c)
	}
	return success(strings.Join(vertices, "\n"))
}

// handleChat answers "kgs-chat (game|private) Name Message".
func handleChat(req request) response {
	if len(req.args) < 3 {
		return failure("wrong number of arguments")
	}
	reply, ok := req.s.eng.Chat(req.s.board, strings.Join(req.args[2:], " "))
	if !ok {
		return failure("unknown chat command")
	}
	return success(reply)
}

func handleFreeHandicap(req request) response {
	if len(req.args) < 2 {
		return failure("wrong number of arguments")
	}
	for _, v := range req.args {
		if _, err := req.s.board.Coord(v); err != nil {
			return failure("syntax error")
		}
	}
	req.s.board.PlaceHandicap(len(req.args))
	return success("")
}

func seconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// handleTimeSettings sets "main_time byo_yomi_time byo_yomi_stones" for
// both sides. A zero byoyomi with zero stones means no overtime; all zero
// means no time limit.
func handleTimeSettings(req request) response {
	if len(req.args) != 3 {
		return failure("wrong number of arguments")
	}
	main, err1 := seconds(req.args[0])
	byo, err2 := seconds(req.args[1])
	stones, err3 := strconv.Atoi(req.args[2])
	if err1 != nil || err2 != nil || err3 != nil || stones < 0 {
		return failure("syntax error")
	}
	c := game.Clock{Main: main}
	if byo > 0 && stones > 0 {
		c.Byoyomi, c.Periods, c.Stones = byo, 1, stones
	}
	req.s.clocks[game.Black] = c
	req.s.clocks[game.White] = c
	return success("")
}

// handleTimeLeft updates "color time stones": stones 0 means main time.
func handleTimeLeft(req request) response {
	if len(req.args) != 3 {
		return failure("wrong number of arguments")
	}
	color, err := game.ParseColor(req.args[0])
	if err != nil {
		return failure("syntax error")
	}
	left, err1 := seconds(req.args[1])
	stones, err2 := strconv.Atoi(req.args[2])
	if err1 != nil || err2 != nil || stones < 0 {
		return failure("syntax error")
	}
	c := req.s.clocks[color]
	if stones == 0 {
		c.Main = left
	} else {
		c.Main = 0
		c.Byoyomi, c.Periods, c.Stones = left, 1, stones
	}
	req.s.clocks[color] = c
	return success("")
}
