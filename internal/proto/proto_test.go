package proto

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestIDScheme(t *testing.T) {
	id := NewID(42, -1, func(int) int { return 7 })
	if id != 7042+GameLen {
		t.Fatalf("unexpected id %d", id)
	}
	if MoveNumber(id) != 42 || ReplyDisabled(id) {
		t.Fatalf("move %d disabled %v", MoveNumber(id), ReplyDisabled(id))
	}
	silent := PreventReply(id)
	if silent != 42 || !ReplyDisabled(silent) || MoveNumber(silent) != 42 {
		t.Fatalf("silent id %d", silent)
	}
}

func TestNewIDDiffersFromPrevious(t *testing.T) {
	seq := []int{3, 3, 3, 9}
	rnd := func(int) int {
		v := seq[0]
		seq = seq[1:]
		return v
	}
	prev := ForceReply(5 + 3*GameLen)
	id := NewID(5, prev, rnd)
	if id == prev || id != ForceReply(5+9*GameLen) {
		t.Fatalf("expected a fresh id, got %d", id)
	}
}

func TestResetPredicates(t *testing.T) {
	if !IsGameStart("BoardSize") || IsGameStart("clear_board") {
		t.Fatalf("game start predicate")
	}
	for _, c := range []string{"boardsize", "clear_board", "KGS-rules"} {
		if !IsReset(c) {
			t.Fatalf("%s should reset", c)
		}
	}
	if IsReset("play") {
		t.Fatalf("play should not reset")
	}
}

func TestFormatCommand(t *testing.T) {
	if got := FormatCommand(1012, "play", "b D4\n"); got != "1012 play b D4\n" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatCommand(12, "clear_board", ""); got != "12 clear_board \n" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestBinaryToken(t *testing.T) {
	cmd := "1001 pachi-genmoves b 0 @0\nD4 3 0.5000000 0 0.0000000\n\n"
	if n := BinaryToken(cmd); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	out := SetBinarySize(cmd, 4096)
	if !strings.HasPrefix(out, "1001 pachi-genmoves b 0 @4096\nD4 3") {
		t.Fatalf("unexpected rewrite %q", out)
	}
	if BinaryToken(out) != 4096 {
		t.Fatalf("token not updated")
	}
	if BinaryToken("1001 play b D4\n") != -1 {
		t.Fatalf("expected no token")
	}
	if SetBinarySize("1 play b D4\n", 5) != "1 play b D4\n" {
		t.Fatalf("command without token must be unchanged")
	}
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("1001 play b D4\n")
	if err != nil || c.ID != 1001 || c.Name != "play" || c.Args != "b D4" {
		t.Fatalf("unexpected %+v %v", c, err)
	}
	c, err = ParseCommand("name\n")
	if err != nil || c.ID != -1 || c.Name != "name" || c.Args != "" {
		t.Fatalf("unexpected %+v %v", c, err)
	}
	if _, err := ParseCommand("  \n"); !errors.Is(err, ErrBadCommand) {
		t.Fatalf("expected ErrBadCommand, got %v", err)
	}
}

func TestReadReplyWithBinary(t *testing.T) {
	in := "=1001 10 20 4 1 @5\nD4 1 0.5 0 0\n\nabcdeNEXT"
	br := bufio.NewReader(strings.NewReader(in))
	r, err := ReadReply(br, 16)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.ID != 1001 || !r.OK || string(r.Binary) != "abcde" {
		t.Fatalf("unexpected reply %+v", r)
	}
	if r.Text != "=1001 10 20 4 1 @5\nD4 1 0.5 0 0\n" {
		t.Fatalf("unexpected text %q", r.Text)
	}
	rest, _ := br.ReadString('T')
	if rest != "NEXT" {
		t.Fatalf("reader not positioned after binary: %q", rest)
	}
}

func TestReadReplyError(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("?1003 unknown command\n\n"))
	r, err := ReadReply(br, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.OK || r.ID != 1003 || r.Body() != "unknown command\n" {
		t.Fatalf("unexpected reply %+v body %q", r, r.Body())
	}
}

func TestReadReplyWithoutID(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("= whatever\n\n"))
	r, err := ReadReply(br, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.ID != -1 || !r.OK {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestReadReplyLimits(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("=1 @100\n\n"))
	if _, err := ReadReply(br, 99); !errors.Is(err, ErrBinaryTooLarge) {
		t.Fatalf("expected ErrBinaryTooLarge, got %v", err)
	}
	br = bufio.NewReader(strings.NewReader("=1 ok\n"))
	if _, err := ReadReply(br, 0); err == nil {
		t.Fatalf("expected error on truncated reply")
	}
	br = bufio.NewReader(strings.NewReader("=1 @4\n\nab"))
	if _, err := ReadReply(br, 4); err == nil {
		t.Fatalf("expected error on truncated binary")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	args := GenmovesArgs{Color: "b", Played: 12, Binary: true}.String()
	text := SetBinarySize(FormatCommand(1005, CmdGenmoves, args), 3)
	if err := WriteCommand(bw, text, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteCommand(bw, FormatCommand(5, "play", "w C3\n"), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	br := bufio.NewReader(&buf)
	c, body, bin, err := ReadCommand(br, 16)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c.ID != 1005 || c.Name != CmdGenmoves || body != "" || !bytes.Equal(bin, []byte{1, 2, 3}) {
		t.Fatalf("unexpected %+v %q %v", c, body, bin)
	}
	c, _, _, err = ReadCommand(br, 16)
	if err != nil || c.ID != 5 || c.Args != "w C3" {
		t.Fatalf("unexpected %+v %v", c, err)
	}
}

func TestIdentify(t *testing.T) {
	var out bytes.Buffer
	br := bufio.NewReader(strings.NewReader("= pachi 12.84\n\n"))
	name, err := Identify(br, bufio.NewWriter(&out))
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if out.String() != "name\n" || name != "pachi 12.84" {
		t.Fatalf("sent %q, name %q", out.String(), name)
	}

	for _, in := range []string{"= GnuGo\n\n", "= Pachi\nextra\n\n", "", "? Pachi\n\n"} {
		br := bufio.NewReader(strings.NewReader(in))
		if _, err := Identify(br, bufio.NewWriter(&out)); !errors.Is(err, ErrNotPeer) {
			t.Fatalf("%q: expected ErrNotPeer, got %v", in, err)
		}
	}
}
