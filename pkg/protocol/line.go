package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// ProbeLine is the server-initiated keepalive request.
const ProbeLine = "srv: ALIVE"

// DefaultMaxLineLength bounds the bytes a LineBuffer holds while waiting
// for a newline.
const DefaultMaxLineLength = 64 * 1024

// ErrLineTooLong is returned when an unterminated line exceeds the
// LineBuffer limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineKind classifies an inbound line
type LineKind int

const (
	LineText LineKind = iota
	LineEmpty
	LineProbe
	LineEndOfMessage
)

// String returns the string representation of LineKind
func (k LineKind) String() string {
	switch k {
	case LineText:
		return "TEXT"
	case LineEmpty:
		return "EMPTY"
	case LineProbe:
		return "PROBE"
	case LineEndOfMessage:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the kind of a complete inbound line (without its
// terminator).
func Classify(line string) LineKind {
	switch line {
	case "":
		return LineEmpty
	case ProbeLine:
		return LineProbe
	case Terminator:
		return LineEndOfMessage
	default:
		return LineText
	}
}

// LineBuffer reassembles newline-terminated lines from arbitrarily split
// reads. It is not safe for concurrent use.
type LineBuffer struct {
	buf []byte
	max int
}

// NewLineBuffer returns a LineBuffer that fails once more than max bytes
// are pending without a newline. A max <= 0 selects DefaultMaxLineLength.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	return &LineBuffer{max: max}
}

// Write appends p to the buffer. It returns ErrLineTooLong when the
// unterminated tail grows past the limit; complete lines already in the
// buffer are still available through Next.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	tail := b.buf
	if i := bytes.LastIndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	if len(tail) > b.max {
		return len(p), fmt.Errorf("%d pending bytes: %w", len(tail), ErrLineTooLong)
	}
	return len(p), nil
}

// Next extracts the next complete line with its LF (and a preceding CR)
// removed. It reports false when no complete line is buffered.
func (b *LineBuffer) Next() (string, bool) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := b.buf[:i]
	line = bytes.TrimSuffix(line, []byte("\r"))
	s := string(line)

	rest := copy(b.buf, b.buf[i+1:])
	b.buf = b.buf[:rest]
	return s, true
}

// Buffered returns the number of bytes held, including partial lines.
func (b *LineBuffer) Buffered() int {
	return len(b.buf)
}
