// Package menu is the interactive front end of the chat client. It turns
// menu choices typed by the user into client commands.
package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/omochice/drocsid-chat/internal/client"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// Dispatcher is the set of commands the menu can issue. *client.Client
// implements it.
type Dispatcher interface {
	Login(name string) error
	CreateGroup(group string) error
	EnterGroup(group string) error
	LeaveGroup(group string) error
	ListMembers(group string) error
	SendGroupMessage(group, body string) error
	SendPrivateMessage(recipient, body string) error
}

var _ Dispatcher = (*client.Client)(nil)

// Menu reads user choices from an input stream and dispatches them.
type Menu struct {
	d       Dispatcher
	in      io.Reader
	out     io.Writer
	prompts bool

	// group is the group whose menu is shown. It is set when ENTER is sent
	// and cleared on LEAVE or back, without waiting for the server's reply.
	group string

	lines chan string
	stop  chan struct{}
}

// Option configures a Menu.
type Option func(*Menu)

// WithPrompts forces menu text and prompts on or off. By default they are
// shown only when the input is a terminal.
func WithPrompts(on bool) Option {
	return func(m *Menu) { m.prompts = on }
}

// New creates a Menu reading from in and writing prompts to out.
func New(d Dispatcher, in io.Reader, out io.Writer, opts ...Option) *Menu {
	m := &Menu{
		d:       d,
		in:      in,
		out:     out,
		prompts: IsTerminal(in),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsTerminal reports whether r is an interactive terminal.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Group returns the current group context, or "" in the main menu.
func (m *Menu) Group() string {
	return m.group
}

// Run shows the menus until the user quits, input ends, ctx is done, or
// the connection fails. Only the last two return an error.
func (m *Menu) Run(ctx context.Context) error {
	m.lines = make(chan string)
	m.stop = make(chan struct{})
	defer close(m.stop)
	go m.scan()

	for {
		var (
			quit bool
			err  error
		)
		if m.group == "" {
			quit, err = m.mainMenu(ctx)
		} else {
			quit, err = m.groupMenu(ctx)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if quit {
			return nil
		}
	}
}

func (m *Menu) scan() {
	defer close(m.lines)
	scanner := bufio.NewScanner(m.in)
	for scanner.Scan() {
		select {
		case m.lines <- strings.TrimRight(scanner.Text(), "\r"):
		case <-m.stop:
			return
		}
	}
}

// readLine returns the next input line, io.EOF when input ends, or the
// context error.
func (m *Menu) readLine(ctx context.Context, prompt string) (string, error) {
	m.printf("%s", prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-m.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// readArg reads a single non-empty token.
func (m *Menu) readArg(ctx context.Context, prompt string) (string, error) {
	line, err := m.readLine(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readBody reads message lines until a line containing only ".".
func (m *Menu) readBody(ctx context.Context) (string, error) {
	m.printf("Type your message, end with a line containing only %q.\n", protocol.Terminator)
	var lines []string
	for {
		line, err := m.readLine(ctx, "")
		if err != nil {
			return "", err
		}
		if line == protocol.Terminator {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func (m *Menu) mainMenu(ctx context.Context) (bool, error) {
	m.printf("\n1) Log in\n2) Create a group\n3) Enter a group\n4) Send a private message\n5) Quit\n")
	choice, err := m.readArg(ctx, "> ")
	if err != nil {
		return false, err
	}

	switch choice {
	case "1", "login":
		name, err := m.readArg(ctx, "User name: ")
		if err != nil {
			return false, err
		}
		return false, m.result(m.d.Login(name))

	case "2", "create":
		group, err := m.readArg(ctx, "Group name: ")
		if err != nil {
			return false, err
		}
		return false, m.result(m.d.CreateGroup(group))

	case "3", "enter":
		group, err := m.readArg(ctx, "Group name: ")
		if err != nil {
			return false, err
		}
		err = m.d.EnterGroup(group)
		if err == nil {
			m.group = group
		}
		return false, m.result(err)

	case "4", "private":
		recipient, err := m.readArg(ctx, "Recipient: ")
		if err != nil {
			return false, err
		}
		body, err := m.readBody(ctx)
		if err != nil {
			return false, err
		}
		return false, m.result(m.d.SendPrivateMessage(recipient, body))

	case "5", "quit", "q":
		return true, nil

	case "":
		return false, nil

	default:
		m.printf("Unknown choice %q\n", choice)
		return false, nil
	}
}

func (m *Menu) groupMenu(ctx context.Context) (bool, error) {
	m.printf("\n[%s]\n1) Send a message\n2) List members\n3) Leave the group\n4) Back to main menu\n", m.group)
	choice, err := m.readArg(ctx, "> ")
	if err != nil {
		return false, err
	}

	switch choice {
	case "1", "send":
		body, err := m.readBody(ctx)
		if err != nil {
			return false, err
		}
		return false, m.result(m.d.SendGroupMessage(m.group, body))

	case "2", "members":
		return false, m.result(m.d.ListMembers(m.group))

	case "3", "leave":
		err := m.d.LeaveGroup(m.group)
		if err == nil {
			m.group = ""
		}
		return false, m.result(err)

	case "4", "back":
		m.group = ""
		return false, nil

	case "":
		return false, nil

	default:
		m.printf("Unknown choice %q\n", choice)
		return false, nil
	}
}

// result prints a recoverable command error and passes through one that
// means the connection is gone.
func (m *Menu) result(err error) error {
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}
	fmt.Fprintf(m.out, "error: %v\n", err)
	return nil
}

func isFatal(err error) bool {
	var te *client.TransportError
	return errors.Is(err, client.ErrClosed) || errors.As(err, &te)
}

func (m *Menu) printf(format string, args ...any) {
	if !m.prompts {
		return
	}
	fmt.Fprintf(m.out, format, args...)
}
