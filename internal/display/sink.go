// Package display renders inbound server traffic.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Sink receives inbound lines from the client's reader goroutine.
type Sink interface {
	// Line is called for every non-empty line that is not a keepalive probe.
	Line(text string)

	// EndOfMessage is called after a lone "." line closed a multi-line block.
	EndOfMessage()

	// Disconnected is called once when the reader stops because the
	// connection failed.
	Disconnected(err error)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Line(string)        {}
func (discard) EndOfMessage()      {}
func (discard) Disconnected(error) {}

// Terminal writes server output to a terminal or any io.Writer.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer

	plainStyle lipgloss.Style
	okStyle    lipgloss.Style
	errStyle   lipgloss.Style
	groupStyle lipgloss.Style
	ruleStyle  lipgloss.Style
	warnStyle  lipgloss.Style
}

// TerminalOption configures a Terminal.
type TerminalOption func(*lipgloss.Renderer)

// WithoutColor forces plain ASCII output.
func WithoutColor() TerminalOption {
	return func(r *lipgloss.Renderer) {
		r.SetColorProfile(termenv.Ascii)
	}
}

// NewTerminal returns a Terminal writing to out. The color profile is
// detected from out unless overridden.
func NewTerminal(out io.Writer, opts ...TerminalOption) *Terminal {
	r := lipgloss.NewRenderer(out)
	for _, opt := range opts {
		opt(r)
	}
	return &Terminal{
		out:        out,
		plainStyle: r.NewStyle(),
		okStyle:    r.NewStyle().Foreground(lipgloss.Color("2")),
		errStyle:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		groupStyle: r.NewStyle().Foreground(lipgloss.Color("6")),
		ruleStyle:  r.NewStyle().Faint(true),
		warnStyle:  r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// Line implements Sink.
func (t *Terminal) Line(text string) {
	if text == "." {
		// The marker printed by EndOfMessage replaces the bare dot.
		return
	}
	t.println(t.style(text).Render(text))
}

// EndOfMessage implements Sink.
func (t *Terminal) EndOfMessage() {
	t.println(t.ruleStyle.Render(strings.Repeat("-", 24)))
}

// Disconnected implements Sink.
func (t *Terminal) Disconnected(err error) {
	msg := "*** disconnected from server ***"
	if err != nil {
		msg = fmt.Sprintf("*** disconnected from server: %v ***", err)
	}
	t.println(t.warnStyle.Render(msg))
}

func (t *Terminal) style(text string) lipgloss.Style {
	switch {
	case strings.HasPrefix(text, "ERROR"):
		return t.errStyle
	case text == "OKAY!":
		return t.okStyle
	case strings.HasPrefix(text, "["), strings.HasPrefix(text, "("):
		return t.groupStyle
	default:
		return t.plainStyle
	}
}

func (t *Terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}
