package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxReplySize bounds the text part of a reply or command history:
	// 60 chars for every genmoves first line plus 100 stats lines.
	MaxReplySize = 60*GameLen + 30*100
	// MaxLineSize bounds one line of a reply or proxied log.
	MaxLineSize = 4096
)

var (
	ErrBadReply       = errors.New("bad reply")
	ErrBadCommand     = errors.New("bad command")
	ErrBinaryTooLarge = errors.New("binary reply too large")
)

// Reply is one answer of a peer.
type Reply struct {
	// ID is the echoed command id, -1 if the first line has none.
	ID int
	// OK is true for "=" replies, false for "?" and anything else.
	OK bool
	// Text holds the ASCII part including the final newline of each line
	// but not the terminating empty line.
	Text   string
	Binary []byte
}

// FirstLine returns the first line of the reply without its newline.
func (r Reply) FirstLine() string {
	line, _, _ := strings.Cut(r.Text, "\n")
	return line
}

// Body is the reply text after the "=id " prefix.
func (r Reply) Body() string {
	s := r.Text
	if len(s) > 0 && (s[0] == '=' || s[0] == '?') {
		s = s[1:]
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return strings.TrimPrefix(s[i:], " ")
}

func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		frag, err := br.ReadSlice('\n')
		sb.Write(frag)
		if err == nil {
			return sb.String(), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if sb.Len() > MaxReplySize {
				return "", fmt.Errorf("%w: line too long", ErrBadReply)
			}
			continue
		}
		if err == io.EOF && sb.Len() > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
}

// ReadReply reads one reply: text lines up to an empty line, then the
// binary part announced by an @N token on the first line. maxBinary bounds
// the binary size.
func ReadReply(br *bufio.Reader, maxBinary int) (Reply, error) {
	first, err := readLine(br)
	if err != nil {
		return Reply{}, err
	}
	r := Reply{ID: -1}
	if len(first) > 1 && (first[0] == '=' || first[0] == '?') {
		r.OK = first[0] == '='
		j := 1
		for j < len(first) && first[j] >= '0' && first[j] <= '9' {
			j++
		}
		if j > 1 {
			r.ID, _ = strconv.Atoi(first[1:j])
		}
	}
	size := BinaryToken(first)
	if size > maxBinary {
		return Reply{}, fmt.Errorf("%w: %d > %d", ErrBinaryTooLarge, size, maxBinary)
	}

	var sb strings.Builder
	line := first
	for line != "\n" {
		if sb.Len()+len(line) > MaxReplySize {
			return Reply{}, fmt.Errorf("%w: reply too long", ErrBadReply)
		}
		sb.WriteString(line)
		if line, err = readLine(br); err != nil {
			return Reply{}, err
		}
	}
	r.Text = sb.String()

	if size > 0 {
		r.Binary = make([]byte, size)
		if _, err := io.ReadFull(br, r.Binary); err != nil {
			return Reply{}, err
		}
	}
	return r, nil
}

// WriteCommand writes text followed by the binary argument, if any, and
// flushes.
func WriteCommand(w *bufio.Writer, text string, bin []byte) error {
	if _, err := w.WriteString(text); err != nil {
		return err
	}
	if len(bin) > 0 {
		if _, err := w.Write(bin); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteReply is the peer side of ReadReply. body is the text after the id
// and must not contain empty lines.
func WriteReply(w *bufio.Writer, ok bool, id int, body string, bin []byte) error {
	mark := "="
	if !ok {
		mark = "?"
	}
	var sb strings.Builder
	sb.WriteString(mark)
	if id >= 0 {
		sb.WriteString(strconv.Itoa(id))
	}
	if body != "" {
		sb.WriteString(" ")
		sb.WriteString(strings.TrimRight(body, "\n"))
	}
	sb.WriteString("\n\n")
	return WriteCommand(w, sb.String(), bin)
}

// ReadCommand is the peer side of WriteCommand: it reads one command line,
// the text lines that follow it when the line carries an @N token, and the
// binary argument.
func ReadCommand(br *bufio.Reader, maxBinary int) (Command, string, []byte, error) {
	line, err := readLine(br)
	if err != nil {
		return Command{}, "", nil, err
	}
	c, err := ParseCommand(line)
	if err != nil {
		return Command{}, "", nil, err
	}
	size := BinaryToken(line)
	if size < 0 {
		return c, "", nil, nil
	}
	if size > maxBinary {
		return Command{}, "", nil, fmt.Errorf("%w: %d > %d", ErrBinaryTooLarge, size, maxBinary)
	}
	var sb strings.Builder
	for {
		if line, err = readLine(br); err != nil {
			return Command{}, "", nil, err
		}
		if line == "\n" {
			break
		}
		sb.WriteString(line)
	}
	var bin []byte
	if size > 0 {
		bin = make([]byte, size)
		if _, err := io.ReadFull(br, bin); err != nil {
			return Command{}, "", nil, err
		}
	}
	return c, sb.String(), bin, nil
}
