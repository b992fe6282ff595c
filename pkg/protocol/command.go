// Package protocol implements the DROCSID line protocol: outbound command
// frames and inbound line framing.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Verb identifies an outbound command
type Verb int

const (
	VerbLogin Verb = iota
	VerbCreate
	VerbEnter
	VerbLeave
	VerbListMembers
	VerbSpeak
	VerbPrivate
	VerbAlive
)

// Terminator is the line that closes a multi-line body.
const Terminator = "."

var (
	// ErrInvalidArgument is returned when a command argument is empty or
	// contains whitespace.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBodyTerminator is returned when a message body contains a line
	// that is exactly ".", which would end the frame early.
	ErrBodyTerminator = errors.New("body line collides with terminator")

	// ErrUnknownVerb is returned when encoding a Command with an unknown verb.
	ErrUnknownVerb = errors.New("unknown verb")
)

// String returns the wire representation of Verb
func (v Verb) String() string {
	switch v {
	case VerbLogin:
		return "LOGIN"
	case VerbCreate:
		return "CREAT"
	case VerbEnter:
		return "ENTER"
	case VerbLeave:
		return "LEAVE"
	case VerbListMembers:
		return "LSMEM"
	case VerbSpeak:
		return "SPEAK"
	case VerbPrivate:
		return "MSGPV"
	case VerbAlive:
		return "ALIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseVerb maps a wire verb back to Verb.
func ParseVerb(s string) (Verb, bool) {
	for v := VerbLogin; v <= VerbAlive; v++ {
		if v.String() == s {
			return v, true
		}
	}
	return 0, false
}

// HasBody reports whether frames for this verb carry a multi-line body.
func (v Verb) HasBody() bool {
	return v == VerbSpeak || v == VerbPrivate
}

// Command is a single outbound request. Arg is the user name, group or
// recipient depending on Verb; Body is only used by SPEAK and MSGPV.
type Command struct {
	Verb Verb
	Arg  string
	Body string
}

// Login builds a LOGIN command.
func Login(name string) Command { return Command{Verb: VerbLogin, Arg: name} }

// CreateGroup builds a CREAT command.
func CreateGroup(group string) Command { return Command{Verb: VerbCreate, Arg: group} }

// EnterGroup builds an ENTER command.
func EnterGroup(group string) Command { return Command{Verb: VerbEnter, Arg: group} }

// LeaveGroup builds a LEAVE command.
func LeaveGroup(group string) Command { return Command{Verb: VerbLeave, Arg: group} }

// ListMembers builds an LSMEM command.
func ListMembers(group string) Command { return Command{Verb: VerbListMembers, Arg: group} }

// SpeakGroup builds a SPEAK command carrying body to group.
func SpeakGroup(group, body string) Command {
	return Command{Verb: VerbSpeak, Arg: group, Body: body}
}

// PrivateMessage builds an MSGPV command carrying body to recipient.
func PrivateMessage(recipient, body string) Command {
	return Command{Verb: VerbPrivate, Arg: recipient, Body: body}
}

// Heartbeat builds the bare ALIVE command.
func Heartbeat() Command { return Command{Verb: VerbAlive} }

// Encode renders the command as a wire frame
func (c Command) Encode() ([]byte, error) {
	if c.Verb == VerbAlive {
		return []byte("ALIVE\n"), nil
	}
	if c.Verb < VerbLogin || c.Verb > VerbAlive {
		return nil, fmt.Errorf("encode verb %d: %w", int(c.Verb), ErrUnknownVerb)
	}
	if err := validateArg(c.Arg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Verb, err)
	}

	var b strings.Builder
	b.WriteString(c.Verb.String())
	b.WriteByte(' ')
	b.WriteString(c.Arg)
	b.WriteByte('\n')

	if c.Verb.HasBody() {
		lines := BodyLines(c.Body)
		for _, line := range lines {
			// Receivers drop a CR before LF, so ".\r" ends the body too.
			if strings.TrimSuffix(line, "\r") == Terminator {
				return nil, fmt.Errorf("encode %s: %w", c.Verb, ErrBodyTerminator)
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString(Terminator)
		b.WriteByte('\n')
	}

	return []byte(b.String()), nil
}

// BodyLines splits a message body into lines. CRLF breaks are treated as
// LF and a single trailing line break does not produce an empty line.
func BodyLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.TrimSuffix(body, "\n")
	return strings.Split(body, "\n")
}

func validateArg(arg string) error {
	if arg == "" {
		return fmt.Errorf("empty argument: %w", ErrInvalidArgument)
	}
	if strings.ContainsAny(arg, " \t\r\n") {
		return fmt.Errorf("argument %q contains whitespace: %w", arg, ErrInvalidArgument)
	}
	return nil
}

// ParseHeader splits the first line of an inbound frame into its verb and
// argument. Extra fields after the argument are ignored.
func ParseHeader(line string) (Verb, string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, "", fmt.Errorf("parse %q: %w", line, ErrUnknownVerb)
	}
	verb, ok := ParseVerb(fields[0])
	if !ok {
		return 0, "", fmt.Errorf("parse %q: %w", fields[0], ErrUnknownVerb)
	}
	if verb == VerbAlive {
		return verb, "", nil
	}
	if len(fields) < 2 {
		return verb, "", fmt.Errorf("parse %s: missing argument: %w", verb, ErrInvalidArgument)
	}
	return verb, fields[1], nil
}
