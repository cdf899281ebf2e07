package proto

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// PeerName is the product name a peer must report in reply to "name".
const PeerName = "Pachi"

var ErrNotPeer = errors.New("not a search peer")

// Identify sends the identity probe and checks that the reply starts with
// "= " followed by PeerName (case insensitive) and ends with an empty line.
func Identify(br *bufio.Reader, bw *bufio.Writer) (string, error) {
	if err := WriteCommand(bw, "name\n", nil); err != nil {
		return "", err
	}
	line, err := readLine(br)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotPeer, err)
	}
	want := "= " + PeerName
	if len(line) < len(want) || !strings.EqualFold(line[:len(want)], want) {
		return "", fmt.Errorf("%w: %q", ErrNotPeer, strings.TrimSpace(line))
	}
	end, err := readLine(br)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotPeer, err)
	}
	if end != "\n" {
		return "", fmt.Errorf("%w: missing empty line", ErrNotPeer)
	}
	return strings.TrimSpace(line[2:]), nil
}

// AnswerIdentify is the peer side of Identify.
func AnswerIdentify(br *bufio.Reader, bw *bufio.Writer, name string) error {
	line, err := readLine(br)
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "name" {
		return fmt.Errorf("%w: expected name, got %q", ErrBadCommand, strings.TrimSpace(line))
	}
	return WriteCommand(bw, "= "+name+"\n\n", nil)
}
